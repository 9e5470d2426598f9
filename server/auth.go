package server

import (
	"encoding/hex"
	"fmt"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/orchestrator"
	"github.com/gofiber/fiber/v2"
)

// Headers carrying the proof that the caller holds the approver key.
// Data is obtained from DataToSignURL, Hash and Signature are the wallet signature of Data.
// Data, Hash and Signature are hex encoded, Address is base58 encoded.
const (
	HeaderAddress   = "Address"
	HeaderData      = "Data"
	HeaderHash      = "Hash"
	HeaderSignature = "Signature"
)

func (s *server) authenticate(c *fiber.Ctx) error {
	addr, err := address.FromString(c.Get(HeaderAddress))
	if err != nil {
		s.log.Error(fmt.Sprintf("server, no valid address provided from: %s", c.IP()))
		return fiber.ErrForbidden
	}
	data, err := hex.DecodeString(c.Get(HeaderData))
	if err != nil || len(data) == 0 {
		s.log.Error(fmt.Sprintf("server, data not in hex format, provided from: %s", c.IP()))
		return fiber.ErrForbidden
	}
	hash, err := hex.DecodeString(c.Get(HeaderHash))
	if err != nil || len(hash) != 32 {
		s.log.Error(fmt.Sprintf("server, hash not in hex format, provided from: %s", c.IP()))
		return fiber.ErrForbidden
	}
	signature, err := hex.DecodeString(c.Get(HeaderSignature))
	if err != nil || len(signature) == 0 {
		s.log.Error(fmt.Sprintf("server, signature not in hex format, provided from: %s", c.IP()))
		return fiber.ErrForbidden
	}

	var digest [32]byte
	copy(digest[:], hash)
	if err := s.srv.Authenticator.Authenticate(addr, data, signature, digest); err != nil {
		s.log.Error(fmt.Sprintf("server, authentication of %s from %s failed: %s", addr, c.IP(), err))
		return fiber.ErrForbidden
	}
	c.Locals(addressLocal, addr)
	return c.Next()
}

func caller(c *fiber.Ctx) address.Address {
	addr, _ := c.Locals(addressLocal).(address.Address)
	return addr
}

// authorize returns the run of the batch only to the approver that started it.
func (s *server) authorize(c *fiber.Ctx) (*orchestrator.Run, error) {
	id := c.Params("id")
	run, ok := s.srv.Executor.Lookup(id)
	if !ok {
		return nil, fiber.ErrNotFound
	}
	if run.Approver() != caller(c) {
		s.log.Warn(fmt.Sprintf("server, address %s is not the approver of batch %s", caller(c), id))
		return nil, fiber.ErrForbidden
	}
	return run, nil
}
