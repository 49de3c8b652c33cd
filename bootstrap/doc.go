// Package bootstrap runs a meshprobe process: it validates the typed config,
// initializes logging, starts registered components in order and stops them
// in reverse on exit.
//
//	app, err := bootstrap.NewApp(&cfg)
//	app.RegisterComponent(resolverComponent)
//	err = app.RunTask(ctx, func(ctx context.Context) error { ... })
//
// Run blocks until SIGINT/SIGTERM for serve mode; RunTask runs a finite
// task (one-shot resolve, KV fetch) and cancels it on the same signals.
package bootstrap
