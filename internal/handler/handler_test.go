package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go-gin-event-attendance/internal/model"
	apperrors "go-gin-event-attendance/pkg/app_errors"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type mockIssuanceService struct {
	mock.Mock
}

func (m *mockIssuanceService) IssueOnRegistration(ctx context.Context, eventID, participantID uuid.UUID) (*model.IssuedTicket, error) {
	args := m.Called(ctx, eventID, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.IssuedTicket), args.Error(1)
}

func (m *mockIssuanceService) Regenerate(ctx context.Context, req model.RegenerateRequest) (*model.IssuedTicket, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.IssuedTicket), args.Error(1)
}

func (m *mockIssuanceService) Revoke(ctx context.Context, eventID, participantID, requesterID uuid.UUID) (*model.TicketStatus, error) {
	args := m.Called(ctx, eventID, participantID, requesterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TicketStatus), args.Error(1)
}

func (m *mockIssuanceService) GetStatus(ctx context.Context, eventID, participantID, requesterID uuid.UUID) (*model.TicketStatus, error) {
	args := m.Called(ctx, eventID, participantID, requesterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TicketStatus), args.Error(1)
}

func (m *mockIssuanceService) Download(ctx context.Context, eventID, participantID, requesterID uuid.UUID) (*model.IssuedTicket, error) {
	args := m.Called(ctx, eventID, participantID, requesterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.IssuedTicket), args.Error(1)
}

type mockVerificationService struct {
	mock.Mock
}

func (m *mockVerificationService) Scan(ctx context.Context, req model.ScanRequest) (*model.ScanResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanResult), args.Error(1)
}

type mockAttendanceService struct {
	mock.Mock
}

func (m *mockAttendanceService) ApplyBulk(ctx context.Context, req model.BulkAttendanceRequest) (*model.BulkAttendanceResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BulkAttendanceResult), args.Error(1)
}

func (m *mockAttendanceService) Stats(ctx context.Context, eventID, requesterID uuid.UUID) (*model.AttendanceStats, error) {
	args := m.Called(ctx, eventID, requesterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AttendanceStats), args.Error(1)
}

type testServer struct {
	router       *gin.Engine
	issuance     *mockIssuanceService
	verification *mockVerificationService
	attendance   *mockAttendanceService
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)

	s := &testServer{
		router:       gin.New(),
		issuance:     &mockIssuanceService{},
		verification: &mockVerificationService{},
		attendance:   &mockAttendanceService{},
	}
	api := s.router.Group("/api/v1", JWTAuth(testSecret))
	NewTicketHandler(s.issuance).RegisterRoutes(api)
	NewAttendanceHandler(s.verification, s.attendance).RegisterRoutes(api)
	return s
}

func (s *testServer) do(t *testing.T, method, path string, user uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+signToken(t, user.String(), testSecret))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func signToken(t *testing.T, subject, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTAuth(t *testing.T) {
	s := newTestServer()
	eventID := uuid.New()
	path := "/api/v1/events/" + eventID.String() + "/attendance/stats"

	t.Run("missing header", func(t *testing.T) {
		w := s.do(t, http.MethodGet, path, uuid.Nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, uuid.New().String(), "other"))
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("subject is not a uuid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "alice", testSecret))
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	s.attendance.AssertNotCalled(t, "Stats", mock.Anything, mock.Anything, mock.Anything)
}

func TestTicketHandler_Issue(t *testing.T) {
	s := newTestServer()
	eventID, participantID := uuid.New(), uuid.New()
	issued := &model.IssuedTicket{
		QRImage:     []byte{0x89, 'P', 'N', 'G'},
		ContentType: "image/png",
		State:       model.TicketStateActive,
		Generation:  1,
	}
	s.issuance.On("IssueOnRegistration", mock.Anything, eventID, participantID).Return(issued, nil)

	w := s.do(t, http.MethodPost, "/api/v1/events/"+eventID.String()+"/tickets", participantID, nil)

	require.Equal(t, http.StatusCreated, w.Code)
	var body model.IssuedTicket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, issued.QRImage, body.QRImage)
	assert.Equal(t, 1, body.Generation)
	s.issuance.AssertExpectations(t)
}

func TestTicketHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"no registration", apperrors.ErrRegistrationNotFound, http.StatusConflict},
		{"concluded", apperrors.ErrEventConcluded, http.StatusConflict},
		{"unknown event", apperrors.ErrEventNotFound, http.StatusNotFound},
		{"collision", apperrors.ErrTokenCollision, http.StatusServiceUnavailable},
		{"store down", errors.New("connection refused"), http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer()
			eventID, participantID := uuid.New(), uuid.New()
			s.issuance.On("IssueOnRegistration", mock.Anything, eventID, participantID).Return(nil, tc.err)

			w := s.do(t, http.MethodPost, "/api/v1/events/"+eventID.String()+"/tickets", participantID, nil)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestTicketHandler_DownloadQR(t *testing.T) {
	s := newTestServer()
	eventID, participantID := uuid.New(), uuid.New()
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	s.issuance.On("Download", mock.Anything, eventID, participantID, participantID).
		Return(&model.IssuedTicket{QRImage: png, ContentType: "image/png"}, nil)

	w := s.do(t, http.MethodGet, "/api/v1/events/"+eventID.String()+"/tickets/"+participantID.String()+"/qr", participantID, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, png, w.Body.Bytes())
}

func TestTicketHandler_RegenerateAndRevoke(t *testing.T) {
	s := newTestServer()
	eventID, participantID, hostID := uuid.New(), uuid.New(), uuid.New()
	base := "/api/v1/events/" + eventID.String() + "/tickets/" + participantID.String()

	s.issuance.On("Regenerate", mock.Anything, model.RegenerateRequest{
		EventID: eventID, ParticipantID: participantID, RequesterID: hostID,
	}).Return(&model.IssuedTicket{Generation: 2, InvalidatedGeneration: 1}, nil)
	s.issuance.On("Revoke", mock.Anything, eventID, participantID, participantID).
		Return(nil, apperrors.ErrUnauthorized)

	w := s.do(t, http.MethodPost, base+"/regenerate", hostID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"invalidated_generation":1`)

	w = s.do(t, http.MethodPost, base+"/revoke", participantID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTicketHandler_RegenerateRevoked(t *testing.T) {
	s := newTestServer()
	eventID, participantID := uuid.New(), uuid.New()
	s.issuance.On("Regenerate", mock.Anything, model.RegenerateRequest{
		EventID: eventID, ParticipantID: participantID, RequesterID: participantID,
	}).Return(nil, apperrors.ErrTicketRevoked)

	w := s.do(t, http.MethodPost, "/api/v1/events/"+eventID.String()+"/tickets/"+participantID.String()+"/regenerate", participantID, nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "Ticket revoked")
}

func TestTicketHandler_InvalidPath(t *testing.T) {
	s := newTestServer()
	w := s.do(t, http.MethodGet, "/api/v1/events/not-a-uuid/tickets/"+uuid.NewString(), uuid.New(), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	s.issuance.AssertNotCalled(t, "GetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAttendanceHandler_Scan(t *testing.T) {
	eventID, scannerID := uuid.New(), uuid.New()
	path := "/api/v1/events/" + eventID.String() + "/scan"

	cases := []struct {
		outcome model.ScanOutcome
		status  int
	}{
		{model.ScanOutcomeSuccess, http.StatusOK},
		{model.ScanOutcomeAlreadyConsumed, http.StatusOK},
		{model.ScanOutcomeEventMismatch, http.StatusOK},
		{model.ScanOutcomeUnauthorized, http.StatusForbidden},
		{model.ScanOutcomeThrottled, http.StatusTooManyRequests},
	}

	for _, tc := range cases {
		t.Run(string(tc.outcome), func(t *testing.T) {
			s := newTestServer()
			s.verification.On("Scan", mock.Anything, model.ScanRequest{
				EventID: eventID, RawToken: "RAW", ScannerID: scannerID,
			}).Return(&model.ScanResult{Outcome: tc.outcome}, nil)

			w := s.do(t, http.MethodPost, path, scannerID, ScanRequest{Token: "RAW"})

			assert.Equal(t, tc.status, w.Code)
			var body model.ScanResult
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.outcome, body.Outcome)
		})
	}

	t.Run("missing token", func(t *testing.T) {
		s := newTestServer()
		w := s.do(t, http.MethodPost, path, scannerID, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAttendanceHandler_ApplyBulk(t *testing.T) {
	s := newTestServer()
	eventID, hostID := uuid.New(), uuid.New()
	alice, bob := uuid.New(), uuid.New()

	result := model.NewBulkAttendanceResult()
	result.NewlyMarked = []uuid.UUID{alice}
	result.Backfilled = []uuid.UUID{bob}
	s.attendance.On("ApplyBulk", mock.Anything, model.BulkAttendanceRequest{
		EventID: eventID, ParticipantIDs: []uuid.UUID{alice, bob}, RequesterID: hostID,
	}).Return(result, nil)

	w := s.do(t, http.MethodPost, "/api/v1/events/"+eventID.String()+"/attendance/bulk", hostID,
		BulkAttendanceRequest{ParticipantIDs: []uuid.UUID{alice, bob}})

	require.Equal(t, http.StatusOK, w.Code)
	var body model.BulkAttendanceResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []uuid.UUID{alice}, body.NewlyMarked)
	assert.Equal(t, []uuid.UUID{bob}, body.Backfilled)
	assert.Empty(t, body.NotFound)
}

func TestAttendanceHandler_Stats(t *testing.T) {
	s := newTestServer()
	eventID, hostID := uuid.New(), uuid.New()
	s.attendance.On("Stats", mock.Anything, eventID, hostID).
		Return(&model.AttendanceStats{EventID: eventID, TotalTickets: 4, Attended: 3, AttendanceRate: 0.75}, nil)

	w := s.do(t, http.MethodGet, "/api/v1/events/"+eventID.String()+"/attendance/stats", hostID, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"attendance_rate":0.75`)
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHealthHandler(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
	}).RegisterRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)
}
