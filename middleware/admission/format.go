// utilitário pequeno para formatação rápida/consistente de valores em
// headers, sem puxar fmt só para isso.

package admission

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }

// formatEpochSeconds é o formato do X-RateLimit-Reset.
func formatEpochSeconds(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }

// retryAfterSeconds arredonda para cima: melhor o cliente esperar 1s a mais
// do que voltar cedo e tomar outro 429.
func retryAfterSeconds(until time.Duration) int {
	if until <= 0 {
		return 0
	}
	secs := int(until / time.Second)
	if until%time.Second != 0 {
		secs++
	}
	return secs
}

// formatPolicyLabel é o texto humano do header X-RateLimit-Policy,
// ex: "300 requests per 15m".
func formatPolicyLabel(limit int, window time.Duration) string {
	return strconv.Itoa(limit) + " requests per " + formatWindow(window)
}

// formatWindow evita o "15m0s" do time.Duration em janelas redondas.
func formatWindow(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return strconv.FormatInt(int64(d/time.Hour), 10) + "h"
	case d >= time.Minute && d%time.Minute == 0:
		return strconv.FormatInt(int64(d/time.Minute), 10) + "m"
	case d%time.Second == 0:
		return strconv.FormatInt(int64(d/time.Second), 10) + "s"
	default:
		return d.String()
	}
}
