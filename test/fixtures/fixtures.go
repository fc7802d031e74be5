package fixtures

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
)

var (
	LastVisit = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	ClientRui = model.Client{
		Name:          "Rui Costa",
		Phone:         "5511987654321",
		Vehicle:       "Fiat Palio Weekend",
		LastVisitDate: &LastVisit,
		FacilityName:  "Lisboa Centro",
	}

	ClientAna = model.Client{
		Name:          "Ana Silva",
		Phone:         "351912345678",
		VehicleMake:   "Renault",
		VehicleModel:  "Clio",
		LastVisitDate: &LastVisit,
	}

	Facilities = []*model.Facility{
		{Name: "Lisboa Centro", TemplateName: "service_reminder_pt", TemplateLanguage: "pt_PT", Phone: "+351 210 000 000"},
		{Name: "Porto Norte", Phone: "+351 220 000 000"},
	}
)

// StatusCallback builds a webhook body carrying the given statuses for one
// provider message.
func StatusCallback(wamid, recipient string, at time.Time, statuses ...string) []byte {
	raw := make([]model.RawStatus, len(statuses))
	for i, st := range statuses {
		raw[i] = model.RawStatus{
			ID:          wamid,
			Status:      st,
			Timestamp:   strconv.FormatInt(at.Unix()+int64(i), 10),
			RecipientID: recipient,
		}
		if st == string(model.MessageStatusFailed) {
			raw[i].Errors = json.RawMessage(`[{"code":131026,"title":"Message undeliverable"}]`)
		}
	}
	return envelope(model.WebhookValue{Statuses: raw})
}

// TextMessage builds a webhook body with one inbound text message.
func TextMessage(wamid, from, name, body string, at time.Time) []byte {
	v := model.WebhookValue{
		Messages: []model.RawInboundMessage{{
			ID:        wamid,
			From:      from,
			Timestamp: strconv.FormatInt(at.Unix(), 10),
			Type:      "text",
			Text:      &model.RawText{Body: body},
		}},
	}
	c := model.WebhookContact{WaID: from}
	c.Profile.Name = name
	v.Contacts = []model.WebhookContact{c}
	return envelope(v)
}

// ButtonReply builds a webhook body with one quick-reply button press.
func ButtonReply(wamid, from, payload, text string, at time.Time) []byte {
	return envelope(model.WebhookValue{
		Messages: []model.RawInboundMessage{{
			ID:        wamid,
			From:      from,
			Timestamp: strconv.FormatInt(at.Unix(), 10),
			Type:      "button",
			Button:    &model.RawButton{Payload: payload, Text: text},
		}},
	})
}

func envelope(v model.WebhookValue) []byte {
	v.MessagingProduct = "whatsapp"
	v.Metadata = model.WebhookMetadata{DisplayPhoneNumber: "351210000000", PhoneNumberID: "1234567890"}
	body, err := json.Marshal(model.WebhookPayload{
		Object: model.WebhookObjectType,
		Entry: []model.WebhookEntry{{
			ID:      "waba-1",
			Changes: []model.WebhookChange{{Field: "messages", Value: v}},
		}},
	})
	if err != nil {
		panic(err)
	}
	return body
}
