// Package logger builds slog loggers from functional options or an env-driven
// Config and provides the attribute helpers used across hookrelay, so keys such
// as delivery_id, destination and attempt stay consistent in every component.
//
//	cfg := config.MustLoad[logger.Config]()
//	opts, err := cfg.Options()
//	if err != nil {
//		return err
//	}
//	log := logger.New(opts...)
//	log.Info("delivery succeeded", logger.DeliveryID(id), logger.Attempt(2))
//
// ContextExtractor callbacks registered WithContextExtractors or WithContextValue
// add request-scoped attributes, such as a request id, to every record logged with
// a context.
package logger
