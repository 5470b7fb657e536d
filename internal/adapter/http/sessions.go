package http

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantgate/internal/app"
)

type CreateSessionInput struct {
	Body struct {
		Username string `json:"username" minLength:"1" doc:"Login or email"`
		Password string `json:"password" minLength:"1"`
	}
}

type CreateSessionOutput struct {
	Body struct {
		Token     string         `json:"token"`
		ExpiresAt time.Time      `json:"expires_at"`
		User      UserSummary    `json:"user"`
		Tenant    *TenantSummary `json:"tenant,omitempty" doc:"Absent when the user owns no tenant"`
	}
}

func registerSessions(api huma.API, access *app.AccessService) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/api/v1/sessions",
		Summary:       "Log in and obtain a session token",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateSessionInput) (*CreateSessionOutput, error) {
		session, err := access.Login(ctx, input.Body.Username, input.Body.Password)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &CreateSessionOutput{}
		out.Body.Token = session.Token
		out.Body.ExpiresAt = session.Claims.ExpiresAt
		out.Body.User = toUserSummary(session.User)
		if session.Tenant.ID != 0 {
			summary := toTenantSummary(session.Tenant)
			out.Body.Tenant = &summary
		}
		return out, nil
	})
}
