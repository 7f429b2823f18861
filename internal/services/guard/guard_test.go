package guard

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/entitlement-sync/internal/models"
)

var member = &models.Identity{UserID: "u-1", Role: "user"}

func TestEvaluate_Rules(t *testing.T) {
	granted := models.AccessState{HasActiveAccess: true}
	denied := models.AccessState{}

	tests := []struct {
		name         string
		in           Input
		wantDecision Decision
		wantRedirect string
	}{
		{
			name:         "аутентификация загружается",
			in:           Input{AuthLoading: true, RequiresEntitlement: true, RequestedPath: "/lessons/premium/1"},
			wantDecision: DecisionChecking,
		},
		{
			name:         "доступ загружается для платного ресурса",
			in:           Input{Identity: member, RequiresEntitlement: true, EntitlementLoading: true},
			wantDecision: DecisionChecking,
		},
		{
			name:         "загрузка доступа не мешает бесплатному ресурсу",
			in:           Input{Identity: member, EntitlementLoading: true},
			wantDecision: DecisionGranted,
		},
		{
			name:         "гость на платном ресурсе",
			in:           Input{RequiresEntitlement: true, RequestedPath: "/lessons/premium/1?tab=quiz"},
			wantDecision: DecisionRedirectLogin,
			wantRedirect: "/login?next=%2Flessons%2Fpremium%2F1%3Ftab%3Dquiz",
		},
		{
			name:         "гость на бесплатном ресурсе",
			in:           Input{RequestedPath: "/profile"},
			wantDecision: DecisionRedirectLogin,
			wantRedirect: "/login?next=%2Fprofile",
		},
		{
			name:         "без подписки на платном ресурсе",
			in:           Input{Identity: member, RequiresEntitlement: true, Access: denied},
			wantDecision: DecisionRedirectUpgrade,
			wantRedirect: "/pricing",
		},
		{
			name:         "ошибка чтения доступа даёт отказ",
			in:           Input{Identity: member, RequiresEntitlement: true, Access: models.AccessState{HasActiveAccess: true, Err: errors.New("boom")}},
			wantDecision: DecisionRedirectUpgrade,
			wantRedirect: "/pricing",
		},
		{
			name:         "подписчик на платном ресурсе",
			in:           Input{Identity: member, RequiresEntitlement: true, Access: granted},
			wantDecision: DecisionGrantedWithBanner,
		},
		{
			name:         "пользователь на бесплатном ресурсе",
			in:           Input{Identity: member, Access: denied},
			wantDecision: DecisionGranted,
		},
		{
			name:         "свои адреса перенаправлений",
			in:           Input{Identity: member, RequiresEntitlement: true, Paths: Paths{Login: "/signin", Upgrade: "/plans"}},
			wantDecision: DecisionRedirectUpgrade,
			wantRedirect: "/plans",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(tt.in)
			assert.Equal(t, tt.wantDecision, res.Decision)
			assert.Equal(t, tt.wantRedirect, res.Redirect)
			assert.Equal(t, tt.wantRedirect != "", res.Replace)
		})
	}
}

func TestEvaluate_StatusMatrix(t *testing.T) {
	statuses := []models.SubscriptionStatus{
		models.StatusActive, models.StatusTrialing, models.StatusPastDue, models.StatusCanceled, models.StatusNone,
	}
	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			details := &models.Entitlement{UserID: "u-1", SubscriptionStatus: status}
			res := Evaluate(Input{
				Identity:            member,
				RequiresEntitlement: true,
				Access:              models.AccessState{HasActiveAccess: details.HasAccess(), Details: details},
			})
			assert.Equal(t, status.GrantsAccess(), res.Granted())
			if !res.Granted() {
				assert.Equal(t, DefaultUpgradePath, res.Redirect)
			}
		})
	}
}

func TestLoginRedirect_RejectsForeignLocations(t *testing.T) {
	tests := []struct {
		requested string
		want      string
	}{
		{requested: "https://evil.example.com/", want: "/login"},
		{requested: "//evil.example.com", want: "/login"},
		{requested: "/\\evil.example.com", want: "/login"},
		{requested: "", want: "/login"},
		{requested: "/lessons/1", want: "/login?next=%2Flessons%2F1"},
	}
	for _, tt := range tests {
		t.Run(tt.requested, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(Input{RequestedPath: tt.requested}).Redirect)
		})
	}

	assert.Equal(t, "/auth?mode=signin&next=%2Fx", loginRedirect("/auth?mode=signin", "/x"))
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		decision Decision
		status   int
		action   Action
		banner   bool
	}{
		{DecisionChecking, http.StatusAccepted, ActionWait, false},
		{DecisionRedirectLogin, http.StatusUnauthorized, ActionRedirect, false},
		{DecisionRedirectUpgrade, http.StatusPaymentRequired, ActionRedirect, false},
		{DecisionGranted, http.StatusOK, ActionRender, false},
		{DecisionGrantedWithBanner, http.StatusOK, ActionRender, true},
		{Decision("unknown"), http.StatusAccepted, ActionWait, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.decision), func(t *testing.T) {
			d := Describe(tt.decision)
			assert.Equal(t, tt.status, d.HTTPStatus)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.banner, d.Banner)
		})
	}
}

func TestPolicy_RequiresEntitlement(t *testing.T) {
	policy := NewPolicy([]string{"/lessons/premium/*", "/quizzes/*", " "})

	tests := []struct {
		path string
		want bool
	}{
		{"/lessons/premium/intro", true},
		{"/lessons/premium/unit-2/part-3", true},
		{"/lessons/premium/intro?tab=notes", true},
		{"/lessons/free/../premium/intro", true},
		{"lessons/premium/intro", true},
		{"/quizzes/weekly", true},
		{"/lessons/%70remium/1", true},
		{"/lessons/premium%2F1", true},
		{"/lessons/free%2F..%2Fpremium/1", true},
		{"/%6Cessons/%70remium/intro?tab=notes", true},
		{"/lessons/%zz/1", true},
		{"/lessons/free%20intro", false},
		{"/lessons/free/intro", false},
		{"/", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.RequiresEntitlement(tt.path))
		})
	}

	var empty *Policy
	assert.False(t, empty.RequiresEntitlement("/lessons/premium/intro"))
}

type readerStub struct {
	state models.AccessState
	calls int
}

func (r *readerStub) Query(_ context.Context, _ *models.Identity) models.AccessState {
	r.calls++
	return r.state
}

func TestGuard_Check(t *testing.T) {
	policy := NewPolicy([]string{"/lessons/premium/*"})

	t.Run("бесплатный ресурс не читает доступ", func(t *testing.T) {
		reader := &readerStub{}
		res, _ := New(policy, Paths{}, reader).Check(context.Background(), member, "/lessons/free/1")
		assert.Equal(t, DecisionGranted, res.Decision)
		assert.Equal(t, 0, reader.calls)
	})

	t.Run("гость не читает доступ", func(t *testing.T) {
		reader := &readerStub{}
		res, _ := New(policy, Paths{}, reader).Check(context.Background(), nil, "/lessons/premium/1")
		assert.Equal(t, DecisionRedirectLogin, res.Decision)
		assert.Equal(t, "/login?next=%2Flessons%2Fpremium%2F1", res.Redirect)
		assert.Equal(t, 0, reader.calls)
	})

	t.Run("подписчик", func(t *testing.T) {
		reader := &readerStub{state: models.AccessState{HasActiveAccess: true}}
		res, state := New(policy, Paths{}, reader).Check(context.Background(), member, "/lessons/premium/1")
		require.True(t, state.HasActiveAccess)
		assert.Equal(t, DecisionGrantedWithBanner, res.Decision)
		assert.Equal(t, 1, reader.calls)
	})

	t.Run("без подписки", func(t *testing.T) {
		reader := &readerStub{}
		g := New(policy, Paths{Upgrade: "/plans"}, reader)
		res, _ := g.Check(context.Background(), member, "/lessons/premium/1")
		assert.Equal(t, DecisionRedirectUpgrade, res.Decision)
		assert.Equal(t, "/plans", res.Redirect)
		assert.Equal(t, "/login", g.Paths().Login)
	})
}
