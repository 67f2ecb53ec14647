package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var callRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mason_llm_retries_total",
	Help: "Model call retries and fallbacks after a failed attempt, by stage.",
}, []string{"stage"})
