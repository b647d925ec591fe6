/*
Package security provides the cryptographic services of the terrapool daemon.

# Master key

Everything is rooted in one 32-byte master key, stored hex encoded in a file
(created on first start) or passed in TERRAPOOL_SECRET_KEY. DeriveKeys
expands it with HKDF-SHA256 into independent keys:

	master key
	   │ HKDF-SHA256
	   ├── "terrapool credentials"   → SecretsManager (AES-256-GCM)
	   └── "terrapool agent secrets" → AgentSecrets (HMAC-SHA256)

# Credentials

Vault stores credentials through pkg/storage. The password of a
username-password credential, or the text of a secret credential, is sealed
with AES-256-GCM before it reaches the database:

	sealed = nonce (12 bytes) || ciphertext || tag (16 bytes)

Vault.Credentials opens them again when terraform needs them as variables.

# Agent secrets

An agent proves its identity on connect with the secret it received in the
terrapool_agent_secret variable. The secret is HMAC-SHA256(name) under the
agent key, so it is never stored and survives daemon restarts.
*/
package security
