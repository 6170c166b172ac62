package wire

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/coldirongames/relay/internal/protocol"
)

// nonce builds the 12-byte ChaCha20-Poly1305 nonce for frame_id: the high 8
// bytes are the frame id big-endian, the low 4 bytes are zero. Nonce
// uniqueness is load-bearing: the reliability engine mints every frame id
// once per connection, and a retransmit resends the original datagram byte
// for byte, so a nonce is never used to seal two different plaintexts.
func nonce(frameID uint64) [chacha20poly1305.NonceSize]byte {
	var n [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint64(n[:8], frameID)
	return n
}

// seal encrypts plaintext into a new buffer, returning ciphertext||tag. ad is the
// authenticated-but-unencrypted cleartext prefix of the frame.
func seal(key MemberPrivateKey, frameID uint64, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, protocol.NewError(protocol.ErrDecryptFailure, "wire.seal", err)
	}
	n := nonce(frameID)
	return aead.Seal(nil, n[:], plaintext, ad), nil
}

// open decrypts ciphertext, authenticating ad. Any failure is reported as
// ErrDecryptFailure — the caller must silently drop the frame.
func open(key MemberPrivateKey, frameID uint64, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, protocol.NewError(protocol.ErrDecryptFailure, "wire.open", err)
	}
	n := nonce(frameID)
	pt, err := aead.Open(nil, n[:], ciphertext, ad)
	if err != nil {
		return nil, protocol.NewError(protocol.ErrDecryptFailure, "wire.open", errAuthFailed)
	}
	return pt, nil
}
