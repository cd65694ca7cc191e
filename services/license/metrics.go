package license

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var verifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "licensegate",
	Name:      "verify_total",
	Help:      "Verify calls by outcome and block reason.",
}, []string{"outcome", "reason"})
