package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

func Bytes(v int) zap.Field { return zap.Int("bytes", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - AUTH
// =================================================================================

// KID identifica una signing key. Nunca loguear material de la clave.
func KID(v string) zap.Field { return zap.String("kid", v) }

// JTI identifica un token emitido. Nunca loguear el token serializado.
func JTI(v string) zap.Field { return zap.String("jti", v) }

// SessionID es el sid compartido por la cadena de refresh de una sesión.
func SessionID(v string) zap.Field { return zap.String("sid", v) }

// Subject del token (user id o service id).
func Subject(v string) zap.Field { return zap.String("sub", v) }

// TokenClass: session | access | refresh | m2m.
func TokenClass(v string) zap.Field { return zap.String("token_class", v) }

// ServiceID identifica un servicio M2M.
func ServiceID(v string) zap.Field { return zap.String("service_id", v) }

// Reason de una revocación/rotación.
func Reason(v string) zap.Field { return zap.String("reason", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

func Component(v string) zap.Field { return zap.String("component", v) }

func Op(v string) zap.Field { return zap.String("op", v) }

func Layer(v string) zap.Field { return zap.String("layer", v) }

func Err(err error) zap.Field { return zap.Error(err) }

func Count(v int) zap.Field { return zap.Int("count", v) }

func String(key, v string) zap.Field { return zap.String(key, v) }

func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }

func Any(key string, v any) zap.Field { return zap.Any(key, v) }
