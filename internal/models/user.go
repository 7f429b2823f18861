package models

// RoleAdmin роль администратора в токене сервиса аутентификации.
const RoleAdmin = "admin"

// Identity пользователь, выданный сервисом аутентификации.
// Сервис доступа только ссылается на него и не владеет учётной записью.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// IsAdmin сообщает, есть ли у пользователя роль администратора.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// Customer связь пользователя с клиентом платёжного провайдера.
type Customer struct {
	UserID           string
	Email            string
	StripeCustomerID string
}
