package license

import (
	"encoding/json"
	"time"

	"licensegate/pkg/taskname"

	"github.com/hibiken/asynq"
)

type CheckRecordedPayload struct {
	LicenseID string    `json:"license_id"`
	Domain    string    `json:"domain"`
	ClientIP  string    `json:"client_ip"`
	Channel   string    `json:"channel"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason"`
	CheckedAt time.Time `json:"checked_at"`
}

type DomainBoundPayload struct {
	LicenseID string    `json:"license_id"`
	Domain    string    `json:"domain"`
	BoundAt   time.Time `json:"bound_at"`
}

type DomainRevokedPayload struct {
	LicenseDomainID string    `json:"license_domain_id"`
	LicenseID       string    `json:"license_id"`
	RevokedAt       time.Time `json:"revoked_at"`
}

func NewCheckRecordedTask(payload CheckRecordedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.LicenseCheckRecorded, data, asynq.Queue("low")), nil
}

func NewDomainBoundTask(payload DomainBoundPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.LicenseDomainBound, data, asynq.Queue("default")), nil
}

func NewDomainRevokedTask(payload DomainRevokedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.LicenseDomainRevoked, data, asynq.Queue("default")), nil
}
