package ceremony

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
)

// ErrCircuitOpen is returned when a ceremony is skipped because its circuit
// breaker has opened after repeated failures.
var ErrCircuitOpen = errors.New("ceremony circuit breaker open")

// failureThreshold is the number of consecutive failures that opens a circuit.
const failureThreshold = 3

// failurePolicies maps each ceremony type to the action taken when it fails.
// Planning failures are fatal, standups are advisory, retrospectives are
// retried before giving up.
var failurePolicies = map[models.CeremonyType]models.CeremonyFailurePolicy{
	models.CeremonyPlanning:      models.PolicyAbort,
	models.CeremonyStandup:       models.PolicyContinue,
	models.CeremonyRetrospective: models.PolicyRetry,
}

// retryAttempts is how many attempts a ceremony gets under its policy.
var retryAttempts = map[models.CeremonyFailurePolicy]int{
	models.PolicyRetry: 3,
}

type circuitKey struct {
	cType   models.CeremonyType
	epicNum int
}

// CircuitBreaker tracks consecutive ceremony failures per (type, epic) pair
// and opens after the threshold is reached. A success closes the circuit.
type CircuitBreaker struct {
	mu     sync.Mutex
	counts map[circuitKey]int
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{counts: make(map[circuitKey]int)}
}

// RecordFailure increments the consecutive failure count and returns it.
func (b *CircuitBreaker) RecordFailure(cType models.CeremonyType, epicNum int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := circuitKey{cType, epicNum}
	b.counts[key]++
	return b.counts[key]
}

// Reset closes the circuit for the given pair.
func (b *CircuitBreaker) Reset(cType models.CeremonyType, epicNum int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.counts, circuitKey{cType, epicNum})
}

// IsOpen reports whether the circuit for the given pair is open.
func (b *CircuitBreaker) IsOpen(cType models.CeremonyType, epicNum int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[circuitKey{cType, epicNum}] >= failureThreshold
}

// FailureHandler translates ceremony errors into the action the coordinator
// should take.
type FailureHandler struct {
	breaker *CircuitBreaker
}

// NewFailureHandler creates a failure handler over the given breaker.
func NewFailureHandler(breaker *CircuitBreaker) *FailureHandler {
	return &FailureHandler{breaker: breaker}
}

// Decide returns the policy for a failed ceremony. A skip from an open
// circuit overrides the per-type policy.
func (h *FailureHandler) Decide(cType models.CeremonyType, epicNum int, err error) models.CeremonyFailurePolicy {
	if errors.Is(err, ErrCircuitOpen) || h.breaker.IsOpen(cType, epicNum) {
		return models.PolicySkip
	}
	policy, ok := failurePolicies[cType]
	if !ok {
		slog.Warn("No failure policy for ceremony type, continuing", "type", cType)
		return models.PolicyContinue
	}
	return policy
}

// attemptsFor returns how many execution attempts the type's policy allows.
func attemptsFor(cType models.CeremonyType) int {
	if n, ok := retryAttempts[failurePolicies[cType]]; ok {
		return n
	}
	return 1
}
