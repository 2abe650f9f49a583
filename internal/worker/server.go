package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"voicemaster/internal/tasks"
)

// WorkerServer 封装了 Asynq Worker Server 和周期任务调度器的启动和关闭逻辑
type WorkerServer struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	schedule  string
	log       *logrus.Entry
	sweeper   Sweeper
}

// NewWorkerServer 创建一个新的 WorkerServer 实例。schedule 为空时使用默认间隔。
func NewWorkerServer(redisOpt asynq.RedisClientOpt, sweeper Sweeper, schedule string, concurrency int, logger *logrus.Logger) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")
	if schedule == "" {
		schedule = tasks.DefaultSweepSchedule
	}
	if concurrency <= 0 {
		concurrency = 2
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID := ""
				if rw := task.ResultWriter(); rw != nil {
					taskID = rw.TaskID()
				}
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
			Logger: logEntry,
		},
	)
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: logEntry})

	return &WorkerServer{
		server:    server,
		scheduler: scheduler,
		schedule:  schedule,
		log:       logEntry,
		sweeper:   sweeper,
	}
}

// Mux 返回注册了全部任务处理器的 ServeMux
func (ws *WorkerServer) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeSweep, NewSweepHandler(ws.sweeper))
	return mux
}

// Start 运行 Worker Server 和周期调度器，应该在单独的 goroutine 中调用
func (ws *WorkerServer) Start() {
	if err := ws.registerPeriodicTasks(); err != nil {
		ws.log.WithError(err).Error("Could not register periodic sweep task")
	} else if err := ws.scheduler.Start(); err != nil {
		ws.log.WithError(err).Error("Asynq scheduler failed to start")
	} else {
		ws.log.Info("Asynq scheduler started")
	}

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(ws.Mux()); err != nil {
		if !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		} else {
			ws.log.Info("Worker server stopped.")
		}
	}
}

func (ws *WorkerServer) registerPeriodicTasks() error {
	task, err := tasks.NewSweepTask("")
	if err != nil {
		return err
	}
	entryID, err := ws.scheduler.Register(ws.schedule, task, asynq.Queue("default"))
	if err != nil {
		return err
	}
	ws.log.Infof("Periodic sweep task registered with schedule '%s' (EntryID: %s)", ws.schedule, entryID)
	return nil
}

// Shutdown 优雅地关闭调度器和 Worker Server
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.scheduler.Shutdown()
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
