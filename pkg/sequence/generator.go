package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"licensegate/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

type Generator interface {
	NextInvoiceNumber(ctx context.Context, customerID string) (string, error)
	NextLicenseSerial(ctx context.Context) (int64, error)
}

type RedisGenerator struct {
	rdb *redis.Client
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
	}
}

// NextInvoiceNumber yields e.g. "INV-240829-004" scoped per customer per day.
func (g *RedisGenerator) NextInvoiceNumber(ctx context.Context, customerID string) (string, error) {
	today := time.Now().UTC().Format("060102")
	key := rediskey.BuildInvoiceSequenceKey(customerID, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		expire := time.Until(time.Now().Truncate(24 * time.Hour).Add(24*time.Hour - time.Second))
		_ = g.rdb.Expire(ctx, key, expire).Err()
	}

	encodedSeq := strings.ToUpper(fmt.Sprintf("%03s", strconv.FormatInt(seq, 36)))

	return fmt.Sprintf("INV-%s-%s", today, encodedSeq), nil
}

func (g *RedisGenerator) NextLicenseSerial(ctx context.Context) (int64, error) {
	return g.rdb.Incr(ctx, rediskey.SequenceLicenseKey).Result()
}
