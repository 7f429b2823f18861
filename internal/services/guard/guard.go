// Package guard решает, что показать пользователю при переходе на ресурс.
//
// Evaluate чистая функция. На вход состояние аутентификации, состояние
// доступа и признак платного ресурса, на выходе одно из решений
// Checking, RedirectLogin, RedirectUpgrade, Granted, GrantedWithBanner.
package guard

import (
	"net/url"
	"strings"

	"github.com/magabrotheeeer/entitlement-sync/internal/models"
)

// Decision решение по одной попытке перехода.
type Decision string

const (
	DecisionChecking          Decision = "checking"
	DecisionRedirectLogin     Decision = "redirect_login"
	DecisionRedirectUpgrade   Decision = "redirect_upgrade"
	DecisionGranted           Decision = "granted"
	DecisionGrantedWithBanner Decision = "granted_with_banner"
)

const (
	DefaultLoginPath   = "/login"
	DefaultUpgradePath = "/pricing"

	// NextParam параметр, в котором страница входа получает исходный адрес.
	NextParam = "next"
)

// Paths адреса перенаправлений.
type Paths struct {
	Login   string
	Upgrade string
}

// Input состояние на момент перехода.
type Input struct {
	// AuthLoading сервис аутентификации ещё не ответил.
	AuthLoading bool
	// Identity текущий пользователь, nil если не вошёл.
	Identity *models.Identity
	// RequiresEntitlement ресурс доступен только по подписке.
	RequiresEntitlement bool
	// EntitlementLoading чтение доступа ещё не завершилось.
	EntitlementLoading bool
	// Access результат чтения доступа.
	Access models.AccessState
	// RequestedPath исходный адрес, в том числе с query.
	RequestedPath string
	Paths         Paths
}

// Result итог проверки. Redirect заполнен только для решений с перенаправлением,
// Replace означает замену текущей записи истории без нового шага назад.
type Result struct {
	Decision Decision `json:"decision"`
	Redirect string   `json:"redirect,omitempty"`
	Replace  bool     `json:"replace"`
}

// Evaluate применяет правила по порядку:
//  1. аутентификация или (для платного ресурса) доступ ещё загружаются -> Checking;
//  2. пользователь не вошёл -> RedirectLogin с исходным адресом в параметре next;
//  3. платный ресурс без доступа -> RedirectUpgrade;
//  4. платный ресурс с доступом -> GrantedWithBanner;
//  5. иначе -> Granted.
func Evaluate(in Input) Result {
	paths := in.Paths.withDefaults()

	switch {
	case in.AuthLoading || (in.RequiresEntitlement && in.EntitlementLoading):
		return Result{Decision: DecisionChecking}
	case in.Identity == nil || in.Identity.UserID == "":
		return Result{
			Decision: DecisionRedirectLogin,
			Redirect: loginRedirect(paths.Login, in.RequestedPath),
			Replace:  true,
		}
	case in.RequiresEntitlement && !hasAccess(in.Access):
		return Result{
			Decision: DecisionRedirectUpgrade,
			Redirect: paths.Upgrade,
			Replace:  true,
		}
	case in.RequiresEntitlement:
		return Result{Decision: DecisionGrantedWithBanner}
	default:
		return Result{Decision: DecisionGranted}
	}
}

// hasAccess ошибка чтения всегда означает отказ.
func hasAccess(state models.AccessState) bool {
	return state.Err == nil && state.HasActiveAccess
}

func (p Paths) withDefaults() Paths {
	if p.Login == "" {
		p.Login = DefaultLoginPath
	}
	if p.Upgrade == "" {
		p.Upgrade = DefaultUpgradePath
	}
	return p
}

func loginRedirect(login, requested string) string {
	next := SafeLocalPath(requested)
	if next == "" {
		return login
	}
	sep := "?"
	if strings.Contains(login, "?") {
		sep = "&"
	}
	return login + sep + NextParam + "=" + url.QueryEscape(next)
}

// SafeLocalPath возвращает адрес, только если он указывает внутрь приложения.
// Абсолютные URL и адреса вида //host отбрасываются.
func SafeLocalPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return raw
}
