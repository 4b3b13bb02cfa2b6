/*
 * Copyright (c) 2014, Yawning Angel <yawning at schwanenlied dot me>
 * All rights reserved.
 *
 * Redistribution and use in source and binary forms, with or without
 * modification, are permitted provided that the following conditions are met:
 *
 *  * Redistributions of source code must retain the above copyright notice,
 *    this list of conditions and the following disclaimer.
 *
 *  * Redistributions in binary form must reproduce the above copyright notice,
 *    this list of conditions and the following disclaimer in the documentation
 *    and/or other materials provided with the distribution.
 *
 * THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
 * AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
 * IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
 * ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
 * LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
 * CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
 * SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
 * INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
 * CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
 * ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
 * POSSIBILITY OF SUCH DAMAGE.
 */

// Package anon implements the Crypto-PAn prefix-preserving IP address
// sanitization algorithm (J. Fan, J. Xu, M. Ammar, S. Moon) and applies it
// to stream keys before they reach the export sinks. The mapping is
// one-to-one and prefix-preserving, and the same key sanitizes multiple
// captures consistently.
package anon

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"net"
	"strconv"

	"github.com/glo-fi/Streamtap/types"
)

const (
	// KeySize is the number of key bytes New expects: an AES-128 key plus
	// one block of pad material.
	KeySize = keySize + blockSize

	blockSize = aes.BlockSize
	keySize   = 128 / 8
)

type keySizeError int

func (e keySizeError) Error() string {
	return "invalid key size " + strconv.Itoa(int(e))
}

type bitvector [blockSize]byte

func (v *bitvector) SetBit(idx, bit uint) {
	byteIdx := idx / 8
	bitIdx := 7 - idx&7
	oldBit := uint8((v[byteIdx] & (1 << bitIdx)) >> bitIdx)
	flip := 1 ^ subtle.ConstantTimeByteEq(oldBit, uint8(bit))
	v[byteIdx] ^= byte(flip << bitIdx)
}

func (v *bitvector) Bit(idx uint) uint {
	byteIdx := idx / 8
	bitIdx := 7 - idx&7
	return uint((v[byteIdx] & (1 << bitIdx)) >> bitIdx)
}

// Cryptopan anonymizes stream endpoints under one fixed key. The memo map
// makes repeated lookups of the same endpoint cheap; like the rest of the
// capture path it is single-owner, not safe for concurrent use.
type Cryptopan struct {
	aesImpl cipher.Block
	pad     bitvector
	memo    map[string]string
}

// New constructs and initializes Crypto-PAn with a given key of KeySize
// bytes.
func New(key []byte) (*Cryptopan, error) {
	if len(key) != KeySize {
		return nil, keySizeError(len(key))
	}

	ctx := &Cryptopan{memo: make(map[string]string)}
	var err error
	if ctx.aesImpl, err = aes.NewCipher(key[0:keySize]); err != nil {
		return nil, err
	}
	ctx.aesImpl.Encrypt(ctx.pad[:], key[keySize:])
	return ctx, nil
}

// RandomKey returns a fresh key. Captures sanitized under a random key are
// internally consistent but not comparable across runs.
func RandomKey() []byte {
	b := make([]byte, KeySize)
	rand.Read(b)
	return b
}

// Anonymize maps one address to its sanitized counterpart.
func (ctx *Cryptopan) Anonymize(addr net.IP) net.IP {
	var obfsAddr []byte
	if v4addr := addr.To4(); v4addr != nil {
		obfsAddr = ctx.anonymize(v4addr)
		return net.IPv4(obfsAddr[0], obfsAddr[1], obfsAddr[2], obfsAddr[3])
	} else if v6addr := addr.To16(); v6addr != nil {
		// IPv6 support is an extension of the reference algorithm: slow,
		// but structurally identical.
		obfsAddr = ctx.anonymize(v6addr)
		out := make(net.IP, net.IPv6len)
		copy(out[:], obfsAddr[:])
		return out
	}

	panic("unsupported address type")
}

func (ctx *Cryptopan) anonymize(addr net.IP) []byte {
	addrBits := uint(len(addr) * 8)
	var origAddr, input, output, toXor bitvector
	copy(origAddr[:], addr[:])
	copy(input[:], ctx.pad[:])

	// The first bit does not take any bits from the original address.
	ctx.aesImpl.Encrypt(output[:], input[:])
	toXor.SetBit(0, output.Bit(0))

	// The rest of the one-time pad is built by copying the original
	// address into the AES input bit by bit (MSB first) and encrypting
	// with ECB-AES128, one pad bit per iteration.
	for pos := uint(1); pos < addrBits; pos++ {
		input.SetBit(pos-1, origAddr.Bit(pos-1))
		ctx.aesImpl.Encrypt(output[:], input[:])
		// The LSB of the PRF output matches every other implementation in
		// the wild; see the Crypto-PAn errata discussion.
		toXor.SetBit(pos, output.Bit(0))
	}

	// Xor the pseudorandom one-time pad with the address.
	for i := 0; i < len(addr); i++ {
		toXor[i] ^= origAddr[i]
	}
	return toXor[:len(addr)]
}

// anonymizeString sanitizes one endpoint address in string form, memoized.
// Strings that do not parse as an IP pass through unchanged.
func (ctx *Cryptopan) anonymizeString(input string) string {
	if out, ok := ctx.memo[input]; ok {
		return out
	}
	parsed := net.ParseIP(input)
	if parsed == nil {
		return input
	}
	out := ctx.Anonymize(parsed).String()
	ctx.memo[input] = out
	return out
}

// AnonymizeKey rewrites both endpoint addresses of a stream key. Ports are
// left alone; the deterministic mapping keeps the two directions of a
// connection resolving to the same canonical key.
func (ctx *Cryptopan) AnonymizeKey(key types.StreamKey) types.StreamKey {
	key.SrcIP = ctx.anonymizeString(key.SrcIP)
	key.DstIP = ctx.anonymizeString(key.DstIP)
	return key
}
