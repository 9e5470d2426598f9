package transaction

import (
	"encoding/json"
	"testing"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/wallet"
	"github.com/stretchr/testify/assert"
)

func fixture(t *testing.T) (feePayer, member wallet.Wallet, msg Message) {
	t.Helper()
	feePayer, err := wallet.New()
	assert.Nil(t, err)
	member, err = wallet.New()
	assert.Nil(t, err)

	multisig := address.FromSeed("multisig")
	vault := VaultAddress(multisig, 0)
	mint := address.FromSeed("mint")
	inner := []Instruction{
		NewTransfer(Transfer{
			Source:      AssociatedTokenAddress(vault, mint),
			Destination: AssociatedTokenAddress(address.FromSeed("payee"), mint),
			Authority:   vault,
			Mint:        mint,
			Amount:      1_000_000,
			Decimals:    6,
		}),
		NewMemo([]byte(`{"h":"aa","v":1,"i":"inv-1"}`)),
	}
	msg, err = NewMessage(feePayer.Address(), [32]byte{1, 2, 3},
		NewVaultTransactionCreate(multisig, member.Address(), feePayer.Address(), 1, 0, inner))
	assert.Nil(t, err)
	return feePayer, member, msg
}

func TestNewMessagePutsFeePayerFirst(t *testing.T) {
	feePayer, member, msg := fixture(t)
	fp, err := msg.FeePayer()
	assert.Nil(t, err)
	assert.Equal(t, feePayer.Address(), fp)
	assert.Equal(t, uint8(2), msg.NumRequiredSignatures)
	assert.Equal(t, []address.Address{feePayer.Address(), member.Address()}, msg.RequiredSigners())

	_, err = NewMessage(address.Zero, [32]byte{})
	assert.ErrorIs(t, err, ErrNoFeePayer)
}

func TestNewMessageDoesNotPromoteInnerSigners(t *testing.T) {
	_, _, msg := fixture(t)
	vault := VaultAddress(address.FromSeed("multisig"), 0)
	for _, s := range msg.RequiredSigners() {
		assert.NotEqual(t, vault, s)
	}
}

func TestSignVerify(t *testing.T) {
	feePayer, member, msg := fixture(t)
	tx := New(msg)
	assert.ErrorIs(t, tx.Verify(), ErrMissingSignature)

	assert.Nil(t, tx.Sign(&member))
	assert.True(t, tx.IsSignedBy(member.Address()))
	assert.False(t, tx.IsSignedBy(feePayer.Address()))

	assert.Nil(t, tx.Sign(&feePayer))
	assert.Nil(t, tx.Verify())
	assert.NotEmpty(t, tx.FeePayerSignature())

	stranger, err := wallet.New()
	assert.Nil(t, err)
	assert.ErrorIs(t, tx.Sign(&stranger), ErrNotRequiredSigner)
}

func TestTamperedMessageFailsVerification(t *testing.T) {
	feePayer, member, msg := fixture(t)
	tx := New(msg)
	assert.Nil(t, tx.Sign(&member))
	assert.Nil(t, tx.Sign(&feePayer))

	tx.Message.Instructions[0].Inner[0].Transfer.Amount = 2_000_000
	assert.ErrorIs(t, tx.Verify(), ErrSignatureInvalid)
}

func TestSerializeIsStableOverJSON(t *testing.T) {
	feePayer, member, msg := fixture(t)
	tx := New(msg)
	assert.Nil(t, tx.Sign(&member))
	assert.Nil(t, tx.Sign(&feePayer))

	raw, err := json.Marshal(tx)
	assert.Nil(t, err)
	var decoded Transaction
	assert.Nil(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, tx.Message.Serialize(), decoded.Message.Serialize())
	assert.Nil(t, decoded.Verify())
}

func TestCloneIsDeep(t *testing.T) {
	_, _, msg := fixture(t)
	tx := New(msg)
	c := tx.Clone()
	c.Message.Instructions[0].Inner[0].Transfer.Amount = 5
	c.Message.Instructions[0].Inner[1].Memo[0] = 'x'
	assert.Equal(t, uint64(1_000_000), tx.Message.Instructions[0].Inner[0].Transfer.Amount)
	assert.Equal(t, byte('{'), tx.Message.Instructions[0].Inner[1].Memo[0])
}

func TestTransfersAndMemosAreCollectedRecursively(t *testing.T) {
	_, _, msg := fixture(t)
	tx := New(msg)
	trs := tx.Transfers()
	assert.Len(t, trs, 1)
	assert.Equal(t, uint64(1_000_000), trs[0].Amount)
	assert.Len(t, tx.Memos(), 1)
}

func TestDerivedAddressesDiffer(t *testing.T) {
	multisig := address.FromSeed("multisig")
	assert.NotEqual(t, VaultTransactionAddress(multisig, 1), VaultTransactionAddress(multisig, 2))
	assert.NotEqual(t, VaultTransactionAddress(multisig, 1), ProposalAddress(multisig, 1))
	assert.NotEqual(t, VaultAddress(multisig, 0), VaultAddress(multisig, 1))
	owner, mint := address.FromSeed("owner"), address.FromSeed("mint")
	assert.Equal(t, AssociatedTokenAddress(owner, mint), AssociatedTokenAddress(owner, mint))
	assert.NotEqual(t, AssociatedTokenAddress(owner, mint), AssociatedTokenAddress(mint, owner))
}
