// Package insts provides RISC-V instruction definitions and decoding.
//
// This package implements decoding of rv32/rv64 machine code into structured
// instruction representations. It supports:
//   - The base integer ISA (I): arithmetic, logic, shifts, loads, stores,
//     branches, jumps, upper immediates, fences, and environment calls
//   - The M extension: integer multiply and divide, including RV64 W-forms
//   - The A extension: LR/SC and the AMO read-modify-write operations
//   - The C extension: 16-bit compressed encodings, expanded to their
//     32-bit equivalents before decoding
//
// Usage:
//
//	decoder := insts.NewDecoder(insts.Xlen64, insts.ExtM|insts.ExtA|insts.ExtC)
//	inst, err := decoder.Decode(0x00A50533) // ADD a0, a0, a0
//	fmt.Printf("Op: %v, Rd: %d, Rs1: %d, Rs2: %d\n", inst.Op, inst.Rd, inst.Rs1, inst.Rs2)
package insts
