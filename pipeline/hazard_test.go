package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/clabby/brisc/pipeline"
)

var _ = Describe("HazardUnit", func() {
	var (
		hazard *pipeline.HazardUnit
		idex   pipeline.IDEXRegister
		exmem  pipeline.EXMEMRegister
		memwb  pipeline.MEMWBRegister
	)

	BeforeEach(func() {
		hazard = pipeline.NewHazardUnit()
		idex = pipeline.IDEXRegister{Valid: true, Rs1: 1, Rs2: 2}
		exmem = pipeline.EXMEMRegister{}
		memwb = pipeline.MEMWBRegister{}
	})

	Describe("DetectForwarding", func() {
		It("should not forward when no later stage writes the sources", func() {
			result := hazard.DetectForwarding(&idex, &exmem, &memwb)

			Expect(result.ForwardRs1).To(Equal(pipeline.ForwardNone))
			Expect(result.ForwardRs2).To(Equal(pipeline.ForwardNone))
		})

		It("should forward from EX/MEM when it writes a source register", func() {
			exmem = pipeline.EXMEMRegister{Valid: true, RegWrite: true, Rd: 1}

			result := hazard.DetectForwarding(&idex, &exmem, &memwb)

			Expect(result.ForwardRs1).To(Equal(pipeline.ForwardFromEXMEM))
			Expect(result.ForwardRs2).To(Equal(pipeline.ForwardNone))
		})

		It("should forward from MEM/WB when only it writes the source", func() {
			memwb = pipeline.MEMWBRegister{Valid: true, RegWrite: true, Rd: 2}

			result := hazard.DetectForwarding(&idex, &exmem, &memwb)

			Expect(result.ForwardRs2).To(Equal(pipeline.ForwardFromMEMWB))
		})

		It("should prefer EX/MEM over MEM/WB for the same register", func() {
			exmem = pipeline.EXMEMRegister{Valid: true, RegWrite: true, Rd: 1}
			memwb = pipeline.MEMWBRegister{Valid: true, RegWrite: true, Rd: 1}

			result := hazard.DetectForwarding(&idex, &exmem, &memwb)

			Expect(result.ForwardRs1).To(Equal(pipeline.ForwardFromEXMEM))
		})

		It("should never forward x0", func() {
			idex.Rs1 = 0
			exmem = pipeline.EXMEMRegister{Valid: true, RegWrite: true, Rd: 0}

			result := hazard.DetectForwarding(&idex, &exmem, &memwb)

			Expect(result.ForwardRs1).To(Equal(pipeline.ForwardNone))
		})
	})

	Describe("GetForwardedValue", func() {
		It("should pick the ALU result from EX/MEM", func() {
			exmem = pipeline.EXMEMRegister{Valid: true, ALUResult: 77}

			got := hazard.GetForwardedValue(pipeline.ForwardFromEXMEM, 1, &exmem, &memwb)
			Expect(got).To(Equal(uint64(77)))
		})

		It("should pick the memory data from MEM/WB for loads", func() {
			memwb = pipeline.MEMWBRegister{Valid: true, MemToReg: true, MemData: 88, ALUResult: 1}

			got := hazard.GetForwardedValue(pipeline.ForwardFromMEMWB, 1, &exmem, &memwb)
			Expect(got).To(Equal(uint64(88)))
		})

		It("should fall back to the original value", func() {
			got := hazard.GetForwardedValue(pipeline.ForwardNone, 55, &exmem, &memwb)
			Expect(got).To(Equal(uint64(55)))
		})
	})

	Describe("DetectLoadUseHazard", func() {
		It("should detect a dependent rs1 or rs2", func() {
			Expect(hazard.DetectLoadUseHazard(5, 5, 0)).To(BeTrue())
			Expect(hazard.DetectLoadUseHazard(5, 0, 5)).To(BeTrue())
			Expect(hazard.DetectLoadUseHazard(5, 1, 2)).To(BeFalse())
		})

		It("should never stall for x0", func() {
			Expect(hazard.DetectLoadUseHazard(0, 0, 0)).To(BeFalse())
		})
	})

	Describe("ComputeStalls", func() {
		It("should stall and bubble on a load-use hazard", func() {
			result := hazard.ComputeStalls(true, false)

			Expect(result.StallIF).To(BeTrue())
			Expect(result.StallID).To(BeTrue())
			Expect(result.InsertBubbleEX).To(BeTrue())
			Expect(result.FlushIF).To(BeFalse())
		})

		It("should flush on a control redirect", func() {
			result := hazard.ComputeStalls(false, true)

			Expect(result.FlushIF).To(BeTrue())
			Expect(result.FlushID).To(BeTrue())
			Expect(result.StallIF).To(BeFalse())
		})
	})
})
