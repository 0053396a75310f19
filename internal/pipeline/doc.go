// Package pipeline runs item value preprocessing on a pool of workers.
//
// The [Manager] owns the task queue, the worker pool and the item table. It
// turns collected values into tasks, and finished tasks into their
// consequences: results for the export sink, dependent item tasks and the
// continuation of serial item sequences.
//
// # Workers
//
// Workers pop runnable tasks from the shared [taskqueue.Queue], run them
// through the step engine and push them back as finished. Serial items are
// executed through their sequence task, so at most one value of such an item
// is in flight at any time and values finish in submission order.
//
// # Dependent items
//
// When a master value finishes, its dependents are queued ahead of the
// ordinary backlog. If one of them starts with a step that can reuse a parsed
// document (jsonpath, Prometheus), the master value is wrapped in a shared
// cache and that dependent runs first; its siblings follow with copies of
// the same cache.
//
// # Usage
//
//	m, err := pipeline.New(4, pipeline.WithEngine(step.New()))
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	svc := pipeline.NewService(m, sink)
//	go svc.Run(ctx)
//	svc.AddValues(values)
package pipeline
