package audit

/*
Recorder — движок сбора Audit Trail шлюза.

Ключевые особенности архитектуры:
- Non-blocking Logging: события уходят из Hot Path через неблокирующий канал;
  задержки записи в БД не влияют на Response Time действия.
- Batching: накопление в памяти и пакетная запись (Bulk Insert) в PostgreSQL
  по таймеру или при достижении лимита пачки.
- Drain Pattern & Graceful Shutdown: при остановке буфер вычитывается до
  конца (sync.WaitGroup + закрытие канала) — Final Flush без потерь.
- Ошибка записи аудита никогда не меняет исход самого действия: она уходит
  в error-лог и метрику, по которым стреляет внешний алертинг.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Storage определяет, куда физически сохраняются записи.
type Storage interface {
	// WriteBatch сохраняет пачку записей за один раз.
	WriteBatch(ctx context.Context, entries []Entry) error
}

const defaultBatchSize = 100

type Recorder struct {
	ch            chan Entry
	repo          Storage
	logger        *zap.Logger
	wg            sync.WaitGroup
	flushInterval time.Duration
	// Защита от Log после остановки (0 — открыт, 1 — закрыт)
	isClosed int32
	// Опциональный хук для gauge-метрики заполненности буфера
	fillGauge func(n int)
}

func NewRecorder(repo Storage, logger *zap.Logger, bufferSize int, flushInterval time.Duration) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Recorder{
		ch:            make(chan Entry, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "audit")),
		flushInterval: flushInterval,
	}
}

// SetFillGauge подключает репортер заполненности буфера (prometheus gauge).
func (r *Recorder) SetFillGauge(fn func(n int)) { r.fillGauge = fn }

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop запирает вход в канал и ждет, пока воркер допишет остатки.
// Повторный Stop — no-op.
func (r *Recorder) Stop() {
	if !atomic.CompareAndSwapInt32(&r.isClosed, 0, 1) {
		return
	}

	// Крошечная пауза, чтобы текущие вызовы Success/Failure успели проскочить
	time.Sleep(10 * time.Millisecond)

	r.logger.Info("stopping audit recorder: closing channel and flushing buffer...")
	close(r.ch)
	r.wg.Wait()
	r.logger.Info("audit recorder stopped gracefully")
}

// Success фиксирует первое свежее исполнение ключа. Replays из кэша сюда
// не попадают — инвариант "одна успешная запись на (agentId, key)".
func (r *Recorder) Success(e Entry) {
	e.Outcome = OutcomeSuccess
	r.log(e)
}

// Failure фиксирует любой провал попытки: policy, валидация, исполнение.
func (r *Recorder) Failure(e Entry) {
	e.Outcome = OutcomeFailure
	r.log(e)
}

func (r *Recorder) log(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&r.isClosed) == 1 {
		r.logger.Warn("audit entry dropped: recorder is stopping", zap.String("id", e.ID))
		return
	}

	// Load Shedding: при переполнении буфера событие уходит в error-лог,
	// чтобы данные не потерялись молча
	select {
	case r.ch <- e:
		if r.fillGauge != nil {
			r.fillGauge(len(r.ch))
		}
	default:
		r.logger.Error("audit_buffer_overflow",
			zap.String("agent_id", e.AgentID),
			zap.String("trace_id", e.TraceID),
			zap.String("action", e.Action.String()),
		)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]Entry, 0, defaultBatchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст на shutdown уже может быть закрыт
			if err := r.repo.WriteBatch(context.Background(), batch); err != nil {
				r.logger.Error("audit flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case e, ok := <-r.ch:
			if !ok {
				// Канал закрыт в Stop(): воркер сначала вычитал остатки,
				// теперь финальный сброс и выход
				flush()
				r.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, e)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
