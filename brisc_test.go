package brisc_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/clabby/brisc"
	"github.com/clabby/brisc/emu"
	"github.com/clabby/brisc/insts"
	"github.com/clabby/brisc/loader"
)

const entry = 0x8000_0000

// Test-local encoders for the handful of formats the scenarios need.

func opImm(f3, rd, rs1 uint32, imm int32) uint32 {
	return (uint32(imm)&0xFFF)<<20 | rs1<<15 | f3<<12 | rd<<7 | 0b0010011
}

func li(rd uint32, imm int32) uint32 { return opImm(0b000, rd, 0, imm) }

func lui(rd, imm20 uint32) uint32 { return imm20<<12 | rd<<7 | 0b0110111 }

func load(f3, rd, rs1 uint32, imm int32) uint32 {
	return (uint32(imm)&0xFFF)<<20 | rs1<<15 | f3<<12 | rd<<7 | 0b0000011
}

func store(f3, rs1, rs2 uint32, imm int32) uint32 {
	off := uint32(imm)
	return (off>>5&0x7F)<<25 | rs2<<20 | rs1<<15 | f3<<12 | (off&0x1F)<<7 | 0b0100011
}

func jal(rd uint32, offset int32) uint32 {
	off := uint32(offset)
	return (off>>20&0x1)<<31 | (off>>1&0x3FF)<<21 | (off>>11&0x1)<<20 |
		(off>>12&0xFF)<<12 | rd<<7 | 0b1101111
}

func amo(funct5, f3, rd, rs1, rs2 uint32) uint32 {
	return funct5<<27 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | 0b0101111
}

func ecall() uint32 { return 0x0000_0073 }

func assemble(words ...uint32) []byte {
	buf := make([]byte, 0, 4*len(words))
	for _, w := range words {
		buf = append(buf, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	return buf
}

// buildWith loads the words at the entry point and builds an emulator.
func buildWith(b *brisc.Builder, words ...uint32) *brisc.Emulator {
	mem := emu.NewSimpleMemory()
	Expect(mem.WriteRange(entry, assemble(words...))).To(Succeed())

	em, err := b.WithMemory(mem).WithEntryPC(entry).Build()
	Expect(err).NotTo(HaveOccurred())
	return em
}

var _ = Describe("Emulator", func() {
	Describe("Builder", func() {
		It("should reject a misaligned entry point", func() {
			_, err := brisc.NewBuilder().
				WithISA(insts.Xlen64, 0).
				WithEntryPC(0x1002).
				Build()

			Expect(err).To(HaveOccurred())
			Expect(err.(*emu.Fault).Kind).To(Equal(emu.FaultMisalignedFetch))
		})

		It("should accept a 2-byte-aligned entry point when C is enabled", func() {
			_, err := brisc.NewBuilder().
				WithISA(insts.Xlen64, insts.ExtC).
				WithEntryPC(0x1002).
				Build()

			Expect(err).NotTo(HaveOccurred())
		})

		It("should load a program image and take its entry point", func() {
			prog := &loader.Program{
				EntryPoint: entry,
				InitialSP:  0x7000,
				Segments: []loader.Segment{
					{VirtAddr: entry, Data: assemble(li(10, 0), li(17, 93), ecall())},
				},
			}

			em, err := brisc.NewBuilder().WithProgram(prog).Build()
			Expect(err).NotTo(HaveOccurred())
			Expect(em.RegFile().Read(insts.RegSP)).To(Equal(uint64(0x7000)))

			code, err := em.Run()
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(uint64(0)))
		})
	})

	Describe("Conformance scenarios", func() {
		It("should exit 0 for the pass convention", func() {
			em := buildWith(brisc.NewBuilder(),
				li(10, 0), li(17, 93), ecall())

			code, err := em.Run()

			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(uint64(0)))
			Expect(em.Halted()).To(BeTrue())
		})

		It("should propagate a nonzero exit status", func() {
			em := buildWith(brisc.NewBuilder(),
				li(10, 7), li(17, 93), ecall())

			code, err := em.Run()

			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(uint64(7)))
		})

		It("should fault on a cycle cap for a self-loop", func() {
			em := buildWith(brisc.NewBuilder().WithCycleLimit(100),
				jal(0, 0)) // jal x0, 0: infinite self-loop

			_, err := em.Run()

			Expect(err).To(HaveOccurred())
			fault := err.(*emu.Fault)
			Expect(fault.Kind).To(Equal(emu.FaultCycleLimitExceeded))
			Expect(em.Stats().Cycles).To(Equal(uint64(100)))
		})

		It("should round-trip a stored word through memory", func() {
			// Store 0xDEADBEEF at 0x1000, load it back, exit with it.
			em := buildWith(brisc.NewBuilder().WithISA(insts.Xlen32, insts.ExtM|insts.ExtA),
				lui(10, 0xDEADC),
				opImm(0b000, 10, 10, -0x111), // a0 = 0xDEADBEEF
				lui(1, 0x1),                  // x1 = 0x1000
				store(0b010, 1, 10, 0),
				load(0b010, 10, 1, 0),
				li(17, 93), ecall())

			code, err := em.Run()

			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(uint64(0xDEADBEEF)))
		})

		It("should fail an SC whose reservation was broken", func() {
			// LR 0x2000, store to it from another instruction, SC -> rd=1.
			em := buildWith(brisc.NewBuilder(),
				lui(1, 0x2),                   // x1 = 0x2000
				li(5, 7),                      // x5 = 7
				amo(0b00010, 0b010, 2, 1, 0),  // lr.w x2, (x1)
				store(0b010, 1, 5, 0),         // sw x5, 0(x1)
				amo(0b00011, 0b010, 10, 1, 5), // sc.w a0, x5, (x1)
				li(17, 93), ecall())

			code, err := em.Run()

			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(uint64(1)))
		})
	})

	Describe("Step", func() {
		It("should advance one cycle at a time", func() {
			em := buildWith(brisc.NewBuilder(), li(10, 0), li(17, 93), ecall())

			for !em.Halted() {
				Expect(em.Step()).To(Succeed())
			}
			Expect(em.Stats().Cycles).To(Equal(uint64(6)))
			Expect(em.ExitCode()).To(Equal(uint64(0)))
		})
	})
})
