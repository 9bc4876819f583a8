// Package audit registra eventos de auditoría del core de auth (rotaciones, sync de
// secretos, revocaciones, reuse detection). Los eventos salen por un logger zap
// dedicado; si se configura un archivo, se escriben en JSON con rotación diaria.
//
// Nunca se pasan valores de claves privadas ni tokens serializados: solo kid/jti/sid.
package audit

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
)

// Config del sink de auditoría.
type Config struct {
	// File es el path del link al archivo actual (ej: /var/log/auth/audit.log).
	// Vacío: los eventos van al logger principal con name "audit".
	File         string
	MaxAge       time.Duration // default 30 días
	RotationTime time.Duration // default 24h
}

var (
	mu     sync.RWMutex
	sink   *zap.Logger
	closer io.Closer
)

// Init configura el sink. Llamar una vez desde main; Close al salir.
func Init(cfg Config) error {
	if cfg.File == "" {
		return nil
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}
	if cfg.RotationTime <= 0 {
		cfg.RotationTime = 24 * time.Hour
	}
	w, err := rotatelogs.New(
		cfg.File+".%Y%m%d",
		rotatelogs.WithLinkName(cfg.File),
		rotatelogs.WithMaxAge(cfg.MaxAge),
		rotatelogs.WithRotationTime(cfg.RotationTime),
	)
	if err != nil {
		return fmt.Errorf("audit: open rotating file: %w", err)
	}
	SetWriter(w)
	mu.Lock()
	closer = w
	mu.Unlock()
	return nil
}

// SetWriter redirige los eventos a w en JSON (tests usan un bytes.Buffer).
func SetWriter(w io.Writer) {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.TimeKey = "ts"
	enc.MessageKey = "event"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), zapcore.InfoLevel)
	mu.Lock()
	sink = zap.New(core)
	mu.Unlock()
}

// Close cierra el archivo de auditoría si existe.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	sink = nil
	if closer != nil {
		err := closer.Close()
		closer = nil
		return err
	}
	return nil
}

type actorKey struct{}

// WithActor marca quién origina las operaciones (operador, "scheduler", "webhook", ip).
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom devuelve el actor del contexto ("system" por defecto).
func ActorFrom(ctx context.Context) string {
	if ctx != nil {
		if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
			return a
		}
	}
	return "system"
}

// Log escribe un evento de auditoría estructurado.
func Log(ctx context.Context, event string, fields ...zap.Field) {
	mu.RLock()
	l := sink
	mu.RUnlock()
	if l == nil {
		l = logger.Named("audit")
	}
	fields = append(fields, zap.String("actor", ActorFrom(ctx)))
	l.Info(event, fields...)
}
