// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headerstore

import (
	"encoding/binary"
	"time"

	"github.com/kiirocoin/kiirowallet/netparams"
)

// Header sizes for the three formats the Kiiro chain has used.  Blocks below
// the MTP activation height use the original 80 byte Bitcoin header.  MTP
// blocks carry the extra MTP commitment fields for a total of 180 bytes.
// After the ProgPow switch headers are 120 bytes.
const (
	PreMTPHeaderSize  = 80
	MTPHeaderSize     = 180
	ProgPowHeaderSize = 120
)

// mtpVersionBit is the header version bit signalling the MTP format.
const mtpVersionBit = 0x1000

// HeaderSizeAtHeight returns the serialized size of the header at the given
// height.
func HeaderSizeAtHeight(params *netparams.Params, height int32) int {
	if height >= params.ProgPowHeight {
		return ProgPowHeaderSize
	}
	if height >= params.PreMTPBlocks {
		return MTPHeaderSize
	}
	return PreMTPHeaderSize
}

// HeaderSize returns the serialized size of the raw header based on its
// contents.  The format is determined from the nTime field first, since
// ProgPow headers are identified by timestamp, and from the MTP version bit
// otherwise.  The raw slice must hold at least the 80 byte common prefix.
func HeaderSize(params *netparams.Params, raw []byte) int {
	nTime := binary.LittleEndian.Uint32(raw[68:72])
	if int64(nTime) >= params.ProgPowStartTime {
		return ProgPowHeaderSize
	}
	nVersion := binary.LittleEndian.Uint32(raw[0:4])
	if nVersion&mtpVersionBit == 0 {
		return PreMTPHeaderSize
	}
	return MTPHeaderSize
}

// HeaderTime returns the nTime field of a raw header.  The field sits at the
// same offset in all three header formats.
func HeaderTime(raw []byte) time.Time {
	return time.Unix(int64(binary.LittleEndian.Uint32(raw[68:72])), 0)
}

// CheckHeaderSize reports whether the length of the raw header is plausible
// for its contents.  Headers truncated to the 80 byte prefix or the 120 byte
// ProgPow size are accepted as some servers strip the MTP commitment data.
func CheckHeaderSize(params *netparams.Params, raw []byte) bool {
	switch len(raw) {
	case PreMTPHeaderSize, ProgPowHeaderSize:
		return true
	}
	return len(raw) == HeaderSize(params, raw)
}

// StaticOffset returns the byte offset within the header file at which the
// header with the given height begins.  The offset is a piecewise sum over
// the format transition heights.
func StaticOffset(params *netparams.Params, height int32) int64 {
	offset := int64(0)
	h := int64(height)

	preMTP := int64(params.PreMTPBlocks)
	if h <= preMTP {
		return h * PreMTPHeaderSize
	}
	offset = preMTP * PreMTPHeaderSize

	progPow := int64(params.ProgPowHeight)
	if h <= progPow {
		return offset + (h-preMTP)*MTPHeaderSize
	}
	offset += (progPow - preMTP) * MTPHeaderSize

	return offset + (h-progPow)*ProgPowHeaderSize
}

// FileSizeToHeight returns the number of complete headers stored in a header
// file of the given size.  Partial trailing data is ignored, which allows
// recovery from a truncated file.
func FileSizeToHeight(params *netparams.Params, size int64) int32 {
	preMTPSize := StaticOffset(params, params.PreMTPBlocks)
	if size <= preMTPSize {
		return int32(size / PreMTPHeaderSize)
	}
	preProgPowSize := StaticOffset(params, params.ProgPowHeight)
	if size <= preProgPowSize {
		return params.PreMTPBlocks +
			int32((size-preMTPSize)/MTPHeaderSize)
	}
	return params.ProgPowHeight +
		int32((size-preProgPowSize)/ProgPowHeaderSize)
}
