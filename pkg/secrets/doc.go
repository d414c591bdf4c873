// Package secrets encrypts endpoint and inbound source secrets at rest.
//
// A single master key (SECRETS_KEY, 32 bytes hex or base64) is expanded with
// HKDF-SHA256 into one AES-256-GCM key per scope, and the scope is also bound as
// additional data, so a ciphertext copied to another row does not decrypt.
//
//	c, err := secrets.FromConfig(cfg)
//	stored, err := c.Encrypt("endpoint:"+id.String(), endpoint.Secret)
//	secret, err := c.Decrypt("endpoint:"+id.String(), stored)
//
// Encrypted values carry an "enc:v1:" prefix. Decrypt passes unprefixed values
// through, and a nil *Cipher passes everything through, so encryption can be
// enabled on an existing database without a migration.
package secrets
