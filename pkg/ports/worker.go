package ports

// WorkerPool runs tasks asynchronously. Submit must not block on the task.
type WorkerPool interface {
	Submit(task func()) error
}
