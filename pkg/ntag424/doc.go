/*
Package ntag424 implements the cryptographic command core for provisioning
NXP NTAG 424 DNA tags:
  - Cryptographic primitives (AES-CBC/ECB, AES-CMAC, ISO 9797-1 padding)
  - EV2 two-phase mutual authentication and session key derivation
  - Secure messaging in CommMode.MAC and CommMode.FULL with command-counter
    discipline and response MAC verification
  - The native command set (SelectApplication, GetVersion, GetFileSettings,
    GetKeyVersion, GetFileIDs, ChangeKey, ChangeFileSettings, WriteData,
    ReadData) plus the ISO wrappers used for NDEF
  - SDM (Secure Dynamic Messaging) template building and tap-URL
    verification
  - A PC/SC transport wrapper

# Channels

The package separates the two trust levels in the type system. A RawChannel
wraps a Transport and issues plaintext commands. An AuthChannel is produced
only by RawChannel.AuthenticateEV2First and issues authenticated commands;
it owns the session keys, the transaction identifier TI, and the 16-bit
command counter CmdCtr. A command that requires authentication is a method
on AuthChannel, so it cannot be issued against an unauthenticated link.

	raw := ntag424.NewRawChannel(rdr)
	if err := raw.SelectApplication(); err != nil { ... }
	auth, err := raw.AuthenticateEV2First(key0, 0)
	if err != nil { ... }
	defer auth.Close()

Close zeroes the session keys and must run on every exit path. After a
successful ChangeKey on slot 0 the channel refuses further commands with
ErrSessionExpired — the tag has discarded the session — and the caller
re-authenticates on the raw channel with the new master key.

# Secure messaging

Every authenticated command is one blocking round-trip. The frame is
CLA INS 00 00 Lc Header [Payload] MAC(8) Le with CLA=0x90. The command IV
is E(SesAuthENC, A5 5A || TI || CmdCtr || 00*8); the MAC input is
INS || CmdCtr || TI || Header || Payload, where Payload is ciphertext in
FULL mode and plaintext in MAC mode. The on-wire MAC is the odd-indexed
eight bytes of the CMAC. CmdCtr advances only after the tag reports
success and, for MAC/FULL responses, only after the response MAC verifies;
any failure leaves it unchanged.

# Access Rights Encoding

The 16-bit access rights value is organized (MSB to LSB) as:

	[Read | Write | ReadWrite | ChangeAccessRights]
	bits 15-12: Read key
	bits 11-8:  Write key
	bits 7-4:   ReadWrite key
	bits 3-0:   ChangeAccessRights key

stored little-endian in the GetFileSettings response at byte offsets 2-3:

	Byte offset 2 (AR1) = LSB: [ReadWrite nibble | ChangeAccessRights nibble]
	Byte offset 3 (AR2) = MSB: [Read nibble      | Write nibble]

Nibble values: 0x0-0x4 = key slot, 0xE = free, 0xF = denied.

# File Map

The single PICC application exposes three standard data files:

	File 1 (ID 0xE103)  Capability Container, 32 bytes
	File 2 (ID 0xE104)  NDEF file, 256 bytes; SDM mirrors live here
	File 3 (ID 0xE105)  Proprietary data, 128 bytes

Files are reachable two ways: natively by file number (ReadData/WriteData,
with secure messaging when the file's comm mode demands it) and via ISO
SELECT FILE + READ/UPDATE BINARY when access is free. ISO wrappers cannot
carry secure messaging.

# Status words

ISO wrappers succeed with SW=9000, native commands with SW=9100; SwOK
accepts both. SW=91AF asks for an additional frame; the RawChannel codec
answers 90 AF 00 00 00 and concatenates chained responses (GetVersion,
GetFileSettings, GetFileIDs). Errors of interest:

	SW=911E  integrity error (bad MAC, CRC or padding — often a session
	         derived from the wrong SV layout)
	SW=917E  length error
	SW=911C  illegal command
	SW=91AE  authentication error (wrong key for slot)
	SW=91AD  authentication delay active; wait before retrying
	SW=91BE  boundary error (read/write past file end)
	SW=919D  permission denied
	SW=91CA  command aborted
	SW=6985  conditions not satisfied
	SW=6A82  file not found

Status words are surfaced as *SWError with the raw value preserved;
IsAuthError, IsAuthDelay, IsLengthError, IsBoundaryError,
IsPermissionDenied, IsIntegrityError and IsNotFound classify them.

# Authentication

AuthenticateEV2First (INS 0x71 + 0xAF):

	Phase 1:  90 71 00 00 02 <keyNo> 00 00        → E(RndB), SW=91AF
	Phase 2:  90 AF 00 00 20 E(RndA||RndB<<1) 00  → E(TI||RndA'||PDcap2||PCDcap2), SW=9100

The driver verifies RndA' == RndA<<1 exactly and derives the session keys:

	SV1 = A5 5A 00 01 00 80 || RndA[0:2] || (RndA[2:8] XOR RndB[0:6]) || RndB[6:16] || RndA[8:16]
	SV2 = 5A A5 ... (same fill)
	SesAuthENC = AES-CMAC(key, SV1)
	SesAuthMAC = AES-CMAC(key, SV2)

CRITICAL: SelectApplication, SelectNDEFApp and SelectFile all invalidate an
active session. Select first, authenticate after.
*/
package ntag424
