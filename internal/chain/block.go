package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Block is an ordered batch of transactions sealed by proof of work. Once
// accepted into the chain it is immutable.
type Block struct {
	Height       uint64        `json:"height"`
	PreviousHash string        `json:"previous_hash"`
	MerkleRoot   string        `json:"merkle_root"`
	Timestamp    int64         `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	Nonce        uint64        `json:"nonce"`
	Hash         string        `json:"hash"`
	Miner        string        `json:"miner"`
	Difficulty   uint64        `json:"difficulty"`
	ModelVersion string        `json:"model_version"`
}

// ComputeHash derives the block hash from the header fields. The transaction
// set is committed through the merkle root.
func (b *Block) ComputeHash() string {
	preimage := strings.Join([]string{
		strconv.FormatUint(b.Height, 10),
		b.PreviousHash,
		b.MerkleRoot,
		strconv.FormatInt(b.Timestamp, 10),
		strconv.FormatUint(b.Nonce, 10),
		b.Miner,
		strconv.FormatUint(b.Difficulty, 10),
		b.ModelVersion,
	}, "|")
	sum := sha256.Sum256([]byte(preimage))
	return hex.EncodeToString(sum[:])
}

// ComputeMerkleRoot builds a binary merkle tree over the transaction hashes
// in list order, duplicating the last node when a level has odd cardinality.
// An empty transaction list yields the hash of the empty string.
func ComputeMerkleRoot(txs []Transaction) string {
	if len(txs) == 0 {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:])
	}

	level := make([][]byte, len(txs))
	for i := range txs {
		sum := sha256.Sum256([]byte(txs[i].canonical()))
		level[i] = sum[:]
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			h := sha256.New()
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		level = next
	}

	return hex.EncodeToString(level[0])
}

// HashMeetsDifficulty reports whether a hex-encoded hash has at least the
// required number of leading zero bits.
func HashMeetsDifficulty(hash string, difficulty uint64) bool {
	raw, err := hex.DecodeString(hash)
	if err != nil {
		return false
	}
	var zeros uint64
	for _, by := range raw {
		if by == 0 {
			zeros += 8
			continue
		}
		for i := 7; i >= 0; i-- {
			if by>>uint(i) != 0 {
				break
			}
			zeros++
		}
		break
	}
	return zeros >= difficulty
}

// Verify recomputes the merkle root and hash from the stored fields and
// checks proof of work and every transaction's self-consistency. Any
// mismatch fails closed: the whole block is invalid.
func (b *Block) Verify() error {
	if root := ComputeMerkleRoot(b.Transactions); root != b.MerkleRoot {
		return fmt.Errorf("%w: merkle root mismatch at height %d", ErrMalformedData, b.Height)
	}
	if hash := b.ComputeHash(); hash != b.Hash {
		return fmt.Errorf("%w: block hash mismatch at height %d", ErrMalformedData, b.Height)
	}
	if !HashMeetsDifficulty(b.Hash, b.Difficulty) {
		return fmt.Errorf("%w: hash %s does not meet difficulty %d", ErrProofOfWork, b.Hash[:16], b.Difficulty)
	}
	for i := range b.Transactions {
		if err := b.Transactions[i].VerifySignature(); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	return nil
}

// Encode serializes the block to its wire form.
func (b *Block) Encode() ([]byte, error) {
	return json.Marshal(b)
}

// DecodeBlock parses a block from its wire form.
func DecodeBlock(data []byte) (*Block, error) {
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	return &b, nil
}
