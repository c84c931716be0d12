package datatrack

// EncryptedPayload is a frame payload after encryption, together with the
// parameters needed to decrypt it.
type EncryptedPayload struct {
	Payload  []byte
	IV       [12]byte
	KeyIndex uint8
}

// EncryptionProvider encrypts outgoing frame payloads. A nil provider means
// tracks are published unencrypted.
type EncryptionProvider interface {
	Encrypt(payload []byte) (EncryptedPayload, error)
}

// DecryptionProvider decrypts incoming frame payloads published by sender.
type DecryptionProvider interface {
	Decrypt(payload EncryptedPayload, sender ParticipantIdentity) ([]byte, error)
}
