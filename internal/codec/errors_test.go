package codec

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
)

func TestToCanonicalError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedType domain.ErrorType
		expectedMsg  string
	}{
		{
			name:         "domain APIError passes through",
			err:          domain.ErrInvalidRequest("bad request"),
			expectedType: domain.ErrorTypeInvalidRequest,
			expectedMsg:  "bad request",
		},
		{
			name:         "wrapped APIError is unwrapped",
			err:          errors.Join(errors.New("context"), domain.ErrNotFound("gone")),
			expectedType: domain.ErrorTypeNotFound,
			expectedMsg:  "gone",
		},
		{
			name:         "regular error becomes server error",
			err:          errors.New("something went wrong"),
			expectedType: domain.ErrorTypeServer,
			expectedMsg:  "something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ToCanonicalError(tt.err)
			if result.Type != tt.expectedType {
				t.Errorf("Type = %v, want %v", result.Type, tt.expectedType)
			}
			if result.Message != tt.expectedMsg {
				t.Errorf("Message = %v, want %v", result.Message, tt.expectedMsg)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   ErrorBody
	}{
		{
			name:       "invalid request",
			err:        domain.ErrInvalidRequest("Message is required"),
			wantStatus: http.StatusBadRequest,
			wantBody:   ErrorBody{Error: "Message is required"},
		},
		{
			name:       "permission with code",
			err:        domain.ErrPermission("Invalid invite code").WithCode(domain.ErrorCodeInvalidInvite),
			wantStatus: http.StatusForbidden,
			wantBody:   ErrorBody{Error: "Invalid invite code", Code: "invalid_invite"},
		},
		{
			name:       "conflict",
			err:        domain.ErrConflict("busy"),
			wantStatus: http.StatusConflict,
			wantBody:   ErrorBody{Error: "busy"},
		},
		{
			name:       "plain error",
			err:        errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   ErrorBody{Error: "disk full"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var got ErrorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if got != tt.wantBody {
				t.Errorf("body = %+v, want %+v", got, tt.wantBody)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Code string `json:"code"`
	}

	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "valid", body: `{"code":"ABC123"}`, want: "ABC123"},
		{name: "empty", body: "", wantErr: true},
		{name: "malformed", body: `{"code":`, wantErr: true},
		{name: "too large", body: `{"code":"` + strings.Repeat("x", MaxBodyBytes) + `"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p payload
			err := DecodeJSON(req, &p)
			if tt.wantErr {
				var apiErr *domain.APIError
				if !errors.As(err, &apiErr) || apiErr.Type != domain.ErrorTypeInvalidRequest {
					t.Fatalf("DecodeJSON() error = %v, want invalid_request", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeJSON() error = %v", err)
			}
			if p.Code != tt.want {
				t.Errorf("Code = %q, want %q", p.Code, tt.want)
			}
		})
	}
}
