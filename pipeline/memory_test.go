package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/clabby/brisc/emu"
	"github.com/clabby/brisc/insts"
	"github.com/clabby/brisc/pipeline"
)

// memOp builds an EX/MEM latch for an atomic operation at addr.
func memOp(op insts.Op, addr, storeValue uint64) *pipeline.EXMEMRegister {
	inst := &insts.Instruction{Op: op, Format: insts.FormatR, Size: 4}
	return &pipeline.EXMEMRegister{
		Valid:      true,
		PC:         0x1000,
		Inst:       inst,
		ALUResult:  addr,
		StoreValue: storeValue,
		MemRead:    true,
		MemWrite:   !(op == insts.OpLRW || op == insts.OpLRD),
		RegWrite:   true,
		MemToReg:   true,
	}
}

var _ = Describe("MemoryStage", func() {
	var (
		mem   *emu.SimpleMemory
		stage *pipeline.MemoryStage
		resv  pipeline.Reservation
	)

	BeforeEach(func() {
		mem = emu.NewSimpleMemory()
		stage = pipeline.NewMemoryStage(mem, insts.Xlen64)
		resv = pipeline.Reservation{}
	})

	Describe("LR/SC", func() {
		It("should succeed when the reservation is intact", func() {
			Expect(mem.Write(0x2000, 4, 41)).To(Succeed())

			lr, err := stage.Access(memOp(insts.OpLRW, 0x2000, 0), &resv)
			Expect(err).NotTo(HaveOccurred())
			Expect(lr.MemData).To(Equal(uint64(41)))
			Expect(resv.Valid).To(BeTrue())

			sc, err := stage.Access(memOp(insts.OpSCW, 0x2000, 42), &resv)
			Expect(err).NotTo(HaveOccurred())
			Expect(sc.MemData).To(Equal(uint64(0)))
			Expect(resv.Valid).To(BeFalse())

			value, err := mem.Read(0x2000, 4, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(uint64(42)))
		})

		It("should fail after an intervening store to the reserved range", func() {
			_, err := stage.Access(memOp(insts.OpLRW, 0x2000, 0), &resv)
			Expect(err).NotTo(HaveOccurred())

			// A store to any byte of the reserved range invalidates it.
			store := &pipeline.EXMEMRegister{
				Valid:      true,
				Inst:       &insts.Instruction{Op: insts.OpSB, Format: insts.FormatS, Size: 4},
				ALUResult:  0x2003,
				StoreValue: 0xFF,
				MemWrite:   true,
			}
			_, err = stage.Access(store, &resv)
			Expect(err).NotTo(HaveOccurred())
			Expect(resv.Valid).To(BeFalse())

			sc, err := stage.Access(memOp(insts.OpSCW, 0x2000, 7), &resv)
			Expect(err).NotTo(HaveOccurred())
			Expect(sc.MemData).To(Equal(uint64(1)))

			// The failed SC must not have stored: only the intervening
			// byte store is visible in the word.
			value, err := mem.Read(0x2000, 4, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(uint64(0xFF00_0000)))
		})

		It("should fail when the SC address does not match", func() {
			_, err := stage.Access(memOp(insts.OpLRW, 0x2000, 0), &resv)
			Expect(err).NotTo(HaveOccurred())

			sc, err := stage.Access(memOp(insts.OpSCW, 0x2004, 7), &resv)
			Expect(err).NotTo(HaveOccurred())
			Expect(sc.MemData).To(Equal(uint64(1)))
			Expect(resv.Valid).To(BeFalse())
		})

		It("should not invalidate the reservation for a disjoint store", func() {
			_, err := stage.Access(memOp(insts.OpLRW, 0x2000, 0), &resv)
			Expect(err).NotTo(HaveOccurred())

			store := &pipeline.EXMEMRegister{
				Valid:      true,
				Inst:       &insts.Instruction{Op: insts.OpSW, Format: insts.FormatS, Size: 4},
				ALUResult:  0x2004,
				StoreValue: 1,
				MemWrite:   true,
			}
			_, err = stage.Access(store, &resv)
			Expect(err).NotTo(HaveOccurred())
			Expect(resv.Valid).To(BeTrue())
		})

		It("should fault on a misaligned LR", func() {
			_, err := stage.Access(memOp(insts.OpLRW, 0x2002|1, 0), &resv)

			Expect(err).To(HaveOccurred())
			fault := err.(*emu.Fault)
			Expect(fault.Kind).To(Equal(emu.FaultMisalignedAccess))
			Expect(fault.PC).To(Equal(uint64(0x1000)))
		})
	})

	Describe("AMO operations", func() {
		It("should return the loaded value and store the computed one", func() {
			Expect(mem.Write(0x3000, 4, 5)).To(Succeed())

			result, err := stage.Access(memOp(insts.OpAMOADDW, 0x3000, 3), &resv)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.MemData).To(Equal(uint64(5)))

			value, err := mem.Read(0x3000, 4, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(uint64(8)))
		})

		It("should sign-extend the loaded word on rv64", func() {
			Expect(mem.Write(0x3000, 4, 0x8000_0000)).To(Succeed())

			result, err := stage.Access(memOp(insts.OpAMOSWAPW, 0x3000, 1), &resv)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.MemData).To(Equal(uint64(0xFFFF_FFFF_8000_0000)))
		})

		It("should apply signed and unsigned min/max", func() {
			minusOne := uint64(0xFFFF_FFFF)

			Expect(mem.Write(0x3000, 4, minusOne)).To(Succeed())
			_, err := stage.Access(memOp(insts.OpAMOMAXW, 0x3000, 1), &resv)
			Expect(err).NotTo(HaveOccurred())
			value, _ := mem.Read(0x3000, 4, false)
			Expect(value).To(Equal(uint64(1))) // signed: -1 < 1

			Expect(mem.Write(0x3000, 4, minusOne)).To(Succeed())
			_, err = stage.Access(memOp(insts.OpAMOMAXUW, 0x3000, 1), &resv)
			Expect(err).NotTo(HaveOccurred())
			value, _ = mem.Read(0x3000, 4, false)
			Expect(value).To(Equal(minusOne)) // unsigned: 0xFFFFFFFF > 1

			Expect(mem.Write(0x3000, 4, minusOne)).To(Succeed())
			_, err = stage.Access(memOp(insts.OpAMOMINW, 0x3000, 1), &resv)
			Expect(err).NotTo(HaveOccurred())
			value, _ = mem.Read(0x3000, 4, false)
			Expect(value).To(Equal(minusOne)) // signed: -1 < 1
		})

		It("should apply the doubleword logical AMOs", func() {
			Expect(mem.Write(0x3000, 8, 0b1100)).To(Succeed())

			result, err := stage.Access(memOp(insts.OpAMOXORD, 0x3000, 0b1010), &resv)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.MemData).To(Equal(uint64(0b1100)))

			value, _ := mem.Read(0x3000, 8, false)
			Expect(value).To(Equal(uint64(0b0110)))
		})

		It("should invalidate an overlapping reservation", func() {
			_, err := stage.Access(memOp(insts.OpLRW, 0x3000, 0), &resv)
			Expect(err).NotTo(HaveOccurred())
			Expect(resv.Valid).To(BeTrue())

			_, err = stage.Access(memOp(insts.OpAMOORW, 0x3000, 1), &resv)
			Expect(err).NotTo(HaveOccurred())
			Expect(resv.Valid).To(BeFalse())
		})
	})

	Describe("Plain loads and stores", func() {
		It("should stamp the PC onto bus faults", func() {
			load := &pipeline.EXMEMRegister{
				Valid:     true,
				PC:        0x1234,
				Inst:      &insts.Instruction{Op: insts.OpLW, Format: insts.FormatI, Size: 4},
				ALUResult: 0x2001,
				MemRead:   true,
			}

			_, err := stage.Access(load, &resv)
			Expect(err).To(HaveOccurred())
			fault := err.(*emu.Fault)
			Expect(fault.Kind).To(Equal(emu.FaultMisalignedAccess))
			Expect(fault.PC).To(Equal(uint64(0x1234)))
			Expect(fault.Addr).To(Equal(uint64(0x2001)))
		})
	})
})
