package license

import (
	"context"
	"encoding/json"

	"licensegate/pkg/repository"
	"licensegate/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Worker drains the license event queues. Its only real job is the audit
// trail: each check:recorded task becomes one verification_logs row.
type Worker struct {
	node *snowflake.Node
	logs repository.Repository[VerificationLog]
}

type WorkerParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		node: p.Node,
		logs: repository.ProvideStore[VerificationLog](p.DB),
	}
}

func (w *Worker) HandleCheckRecorded(ctx context.Context, t *asynq.Task) error {
	var payload CheckRecordedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("malformed check:recorded payload", zap.Error(err))
		return err
	}

	record := &VerificationLog{
		ID:        w.node.Generate().String(),
		LicenseID: payload.LicenseID,
		Domain:    payload.Domain,
		ClientIP:  payload.ClientIP,
		Channel:   payload.Channel,
		Outcome:   payload.Outcome,
		Reason:    payload.Reason,
		CheckedAt: payload.CheckedAt,
	}

	if err := w.logs.Create(ctx, record); err != nil {
		zap.L().Error("failed to persist verification log", zap.Error(err))
		return err
	}

	return nil
}

func (w *Worker) HandleDomainBound(ctx context.Context, t *asynq.Task) error {
	var payload DomainBoundPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}

	zap.L().Info("domain bound",
		zap.String("license_id", payload.LicenseID),
		zap.String("domain", payload.Domain),
		zap.Time("bound_at", payload.BoundAt),
	)
	return nil
}

func (w *Worker) HandleDomainRevoked(ctx context.Context, t *asynq.Task) error {
	var payload DomainRevokedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}

	zap.L().Warn("extra active domain binding revoked",
		zap.String("license_id", payload.LicenseID),
		zap.String("license_domain_id", payload.LicenseDomainID),
	)
	return nil
}

func registerHandlers(mux *asynq.ServeMux, w *Worker) {
	mux.HandleFunc(taskname.LicenseCheckRecorded, w.HandleCheckRecorded)
	mux.HandleFunc(taskname.LicenseDomainBound, w.HandleDomainBound)
	mux.HandleFunc(taskname.LicenseDomainRevoked, w.HandleDomainRevoked)
}

var WorkerModule = fx.Module("license.worker",
	fx.Provide(NewWorker),
	fx.Invoke(registerHandlers),
)
