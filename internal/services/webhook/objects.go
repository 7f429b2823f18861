package webhook

import (
	"bytes"
	"encoding/json"
)

// expandableID ссылка на объект Stripe: строка с ID или развёрнутый объект с полем id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*e = expandableID(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

// checkoutSession поля сессии оплаты, нужные для выдачи доступа.
type checkoutSession struct {
	ID                string       `json:"id"`
	ClientReferenceID string       `json:"client_reference_id"`
	Customer          expandableID `json:"customer"`
	Subscription      expandableID `json:"subscription"`
	CustomerEmail     string       `json:"customer_email"`
	CustomerDetails   *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

func (s *checkoutSession) email() string {
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

// subscription поля подписки Stripe. Начиная с API 2025-03-31 конец периода
// лежит в элементах подписки, поэтому читаются оба места.
type subscription struct {
	ID                string       `json:"id"`
	Customer          expandableID `json:"customer"`
	Status            string       `json:"status"`
	CancelAtPeriodEnd bool         `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64        `json:"current_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

func (s *subscription) priceID() string {
	for _, item := range s.Items.Data {
		if item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

func (s *subscription) periodEnd() int64 {
	if s.CurrentPeriodEnd > 0 {
		return s.CurrentPeriodEnd
	}
	var latest int64
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > latest {
			latest = item.CurrentPeriodEnd
		}
	}
	return latest
}
