// Package logger provee el logger Zap singleton del servicio de auth, con scoping por contexto.
//
// # Design Decisions
//
//   - Singleton: una sola instancia global inicializada con Init().
//   - Context Scoping: cada request lleva su propio logger con request_id, op, etc.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//   - Material privado: nunca se loguean claves privadas ni tokens completos;
//     los helpers de campos solo aceptan identificadores (kid, jti, sid).
//
// # Usage
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
//	log := logger.From(ctx).With(logger.Component("lifecycle"), logger.Op("Refresh"))
//	log.Warn("refresh reuse detected", logger.JTI(jti), logger.SessionID(sid))
package logger
