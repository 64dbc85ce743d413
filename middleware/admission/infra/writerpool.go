package infra

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/rs/zerolog"
)

// WriterPool executa tasks em background com capacidade limitada por um
// semáforo de channel. É o executor das gravações fire-and-forget do cache:
// a task recebe um contexto próprio (desacoplado da requisição e do
// cancelamento do cliente) com timeout por task.
type WriterPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *zerolog.Logger
}

var _ domain.TaskRunner = (*WriterPool)(nil)

func NewWriterPool(size int, taskTimeout time.Duration, logger *zerolog.Logger) *WriterPool {
	if size <= 0 {
		size = 8
	}
	if taskTimeout <= 0 {
		taskTimeout = 2 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &WriterPool{
		sem:     make(chan struct{}, size),
		timeout: taskTimeout,
		logger:  logger,
	}
}

// Submit nunca bloqueia o caminho da requisição: sem vaga, retorna false e o
// chamador decide (as gravações de cache simplesmente descartam).
func (p *WriterPool) Submit(task func(ctx context.Context)) bool {
	select {
	case p.sem <- struct{}{}:
	default:
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().Interface("panic", r).Msg("background task panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		task(ctx)
	}()
	return true
}

// Wait bloqueia até todas as tasks em voo terminarem. Para shutdown gracioso
// e testes.
func (p *WriterPool) Wait() {
	p.wg.Wait()
}
