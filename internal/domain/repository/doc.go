// Package repository define los contratos de dominio del core de autenticación.
//
// Estas interfaces representan colaboradores externos (secret store, lookup store
// de refresh tokens, service registry), independientes del backend concreto.
// Las implementaciones viven en internal/store/adapters/.
//
//	┌───────────────────────────────────────────────────────┐
//	│   jwt (KeyManager/JWKS/TokenService), lifecycle, m2m  │
//	└───────────────────────────────────────────────────────┘
//	                         │
//	                         ▼
//	┌───────────────────────────────────────────────────────┐
//	│  repository: SecretStore, TokenStore, ServiceRegistry │
//	└───────────────────────────────────────────────────────┘
//	                         │
//	   ┌──────────┬──────────┼──────────┬──────────┐
//	   ▼          ▼          ▼          ▼          ▼
//	 memory     redis       pg        mongo     sqlite     (TokenStore)
//	 memory      fs       vault                            (SecretStore)
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Errores de dominio están en errors.go
package repository
