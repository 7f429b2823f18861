package guard

import "net/http"

// Action что должен сделать клиент.
type Action string

const (
	ActionWait     Action = "wait"
	ActionRedirect Action = "redirect"
	ActionRender   Action = "render"
)

// Descriptor представление решения для клиента и HTTP-слоя.
type Descriptor struct {
	HTTPStatus int    `json:"-"`
	Action     Action `json:"action"`
	Banner     bool   `json:"banner"`
}

var descriptors = map[Decision]Descriptor{
	DecisionChecking:          {HTTPStatus: http.StatusAccepted, Action: ActionWait},
	DecisionRedirectLogin:     {HTTPStatus: http.StatusUnauthorized, Action: ActionRedirect},
	DecisionRedirectUpgrade:   {HTTPStatus: http.StatusPaymentRequired, Action: ActionRedirect},
	DecisionGranted:           {HTTPStatus: http.StatusOK, Action: ActionRender},
	DecisionGrantedWithBanner: {HTTPStatus: http.StatusOK, Action: ActionRender, Banner: true},
}

// Describe возвращает представление решения. Неизвестное решение трактуется как ожидание.
func Describe(d Decision) Descriptor {
	if desc, ok := descriptors[d]; ok {
		return desc
	}
	return descriptors[DecisionChecking]
}

// Granted сообщает, можно ли показать ресурс.
func (r Result) Granted() bool {
	return r.Decision == DecisionGranted || r.Decision == DecisionGrantedWithBanner
}
