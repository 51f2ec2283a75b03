// Package task runs native work on background goroutines and delivers
// results back to the script engine without touching engine state off the
// engine thread.
//
// A Pool bounds concurrency; Spawn and SpawnPromise split a unit of work
// into two halves. The work half runs on a pool goroutine with no engine
// access at all. The completion half runs later on the engine thread, under
// a TaskContext delivered through a bridge.Channel, and is the only place
// the result is turned into engine values:
//
//	id, err := task.Spawn(pool, ch,
//		func(ctx context.Context) ([]byte, error) {
//			return os.ReadFile(path)
//		},
//		func(cx *bridge.TaskContext, data []byte, err error) error {
//			if err != nil {
//				return cx.ThrowError(err)
//			}
//			_, err = cx.String(string(data))
//			return err
//		})
//
// SpawnPromise is the same split with the outcome surfaced as a promise the
// script side can await. Panics in work are recovered into task_aborted
// errors and follow the error path; the process never crashes because one
// task did.
package task
