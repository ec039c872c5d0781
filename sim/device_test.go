package sim_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mrf24w/core"
	"mrf24w/sim"
)

// move issues a RAW move on a window and returns the result register.
func move(bus *core.Bus, id core.WindowID, target core.MountTarget, dest bool, size uint16) uint16 {
	_, ctrl0, ctrl1, _, _ := core.WindowRegisters(id)
	bus.Write16(ctrl0, core.RawCtrlWord(target, dest, size))
	return bus.Read16(ctrl1)
}

var _ = Describe("Device", func() {
	var (
		dev *sim.Device
		bus *core.Bus
	)

	BeforeEach(func() {
		dev = sim.New(sim.Options{ResetPolls: 2})
		bus = core.NewBus(dev, dev.ChipSelect)
	})

	It("should power up with scratch on the TX window", func() {
		info := dev.Window(core.WindowTX)
		Expect(info.Mounted).To(BeTrue())
		Expect(info.Scratch).To(BeTrue())
		Expect(dev.Window(core.WindowRX).Mounted).To(BeFalse())
	})

	Context("when the host resets it", func() {
		It("should report reset until the poll count runs out", func() {
			bus.Write16(core.RegHostReset, core.HostResetMask)
			Expect(bus.ReadIndexed(core.IdxHWStatus)).To(BeZero())
			bus.Write16(core.RegHostReset, 0)
			Expect(bus.ReadIndexed(core.IdxHWStatus)).To(BeZero())
			Expect(bus.ReadIndexed(core.IdxHWStatus)).To(BeZero())
			Expect(bus.ReadIndexed(core.IdxHWStatus) & core.HWStatusNotInReset).ToNot(BeZero())
		})
	})

	Context("when moving buffers", func() {
		It("should allocate from the management pool and signal completion", func() {
			bus.Write8(core.RegHostMask, core.IntRaw0)

			Expect(move(bus, core.WindowTX, core.TargetMgmt, true, 32)).To(Equal(uint16(32)))
			Expect(bus.Read8(core.RegHostIntr) & core.IntRaw0).ToNot(BeZero())
			Expect(dev.PoolFree(core.TargetMgmt)).To(Equal(uint16(256 - 32)))

			bus.Write8(core.RegHostIntr, core.IntRaw0)
			Expect(bus.Read8(core.RegHostIntr)).To(BeZero())

			move(bus, core.WindowTX, core.TargetMgmt, false, 0)
			Expect(dev.PoolFree(core.TargetMgmt)).To(Equal(uint16(256)))
		})

		It("should refuse an allocation larger than the pool", func() {
			dev.SetPoolFree(core.TargetData, 10)
			Expect(move(bus, core.WindowTX, core.TargetData, true, 11)).To(BeZero())
			Expect(dev.PoolFree(core.TargetData)).To(Equal(uint16(10)))
		})

		It("should stream bytes through the data port from the index", func() {
			move(bus, core.WindowTX, core.TargetData, true, 8)
			bus.Write16(core.RegRaw0Index, 2)
			bus.WriteArray(core.RegRaw0Data, []byte{0xa, 0xb})
			Expect(bus.Read16(core.RegRaw0Index)).To(Equal(uint16(4)))

			bus.Write16(core.RegRaw0Index, 0)
			buf := make([]byte, 5)
			bus.ReadArray(core.RegRaw0Data, buf)
			Expect(buf).To(Equal([]byte{0, 0, 0xa, 0xb, 0}))
		})

		It("should flag the window busy past its end", func() {
			move(bus, core.WindowTX, core.TargetData, true, 4)
			bus.Write16(core.RegRaw0Index, 4)
			Expect(bus.Read16(core.RegRaw0Status) & core.RawStatusBusyMask).To(BeZero())
			bus.Write16(core.RegRaw0Index, 5)
			Expect(bus.Read16(core.RegRaw0Status) & core.RawStatusBusyMask).ToNot(BeZero())
		})

		It("should hold completion while stalled", func() {
			dev.Stall(true)
			move(bus, core.WindowRX, core.TargetScratch, true, 0)
			Expect(bus.Read8(core.RegHostIntr) & core.IntRaw1).To(BeZero())
			Expect(dev.Moves()).To(Equal(1))
		})

		It("should count moves issued while asleep", func() {
			bus.Write16(core.RegPSPollH, 1)
			Expect(dev.Asleep()).To(BeTrue())
			move(bus, core.WindowTX, core.TargetMgmt, true, 4)
			Expect(dev.Violations()).To(Equal(1))
		})
	})

	Context("when receiving", func() {
		It("should re-raise the FIFO bit while frames are pending", func() {
			dev.InjectDataFrame([]byte{1})
			dev.InjectDataFrame([]byte{2, 2})
			Expect(bus.Read8(core.RegHostIntr) & core.IntFifo0).ToNot(BeZero())

			bus.Write8(core.RegHostIntr, core.IntFifo0)
			Expect(bus.Read8(core.RegHostIntr) & core.IntFifo0).ToNot(BeZero())
			Expect(bus.Read16(core.RegRFifoBcnt0)).To(Equal(uint16(5)))

			bus.Write8(core.RegHostIntr, core.IntFifo0)
			Expect(bus.Read8(core.RegHostIntr) & core.IntFifo0).To(BeZero())
			data, mgmt := dev.Pending()
			Expect(data).To(Equal(2))
			Expect(mgmt).To(BeZero())
		})

		It("should mount management messages ahead of data", func() {
			dev.InjectDataFrame([]byte{1, 2, 3})
			dev.InjectEvent(core.EventConnectionReestablished, 0)
			bus.Write8(core.RegHostIntr, core.IntFifo0|core.IntFifo1)

			Expect(move(bus, core.WindowRX, core.TargetMAC, true, 0)).To(Equal(uint16(3)))
			hdr := make([]byte, 2)
			bus.ReadArray(core.RegRaw1Data, hdr)
			Expect(hdr).To(Equal([]byte{core.TypeMgmtIndicate, byte(core.EventConnectionReestablished)}))

			move(bus, core.WindowRX, core.TargetMgmt, false, 0)
			Expect(move(bus, core.WindowRX, core.TargetMAC, true, 0)).To(Equal(uint16(7)))
		})

		It("should only mount acknowledged messages", func() {
			dev.InjectDataFrame([]byte{1})
			Expect(move(bus, core.WindowRX, core.TargetMAC, true, 0)).To(BeZero())
		})
	})

	Context("when the firmware answers", func() {
		It("should confirm a connect and report it", func() {
			move(bus, core.WindowTX, core.TargetMgmt, true, 4)
			bus.WriteArray(core.RegRaw0Data, []byte{core.TypeMgmtRequest, byte(core.SubtypeCMConnect), 1, 0})
			move(bus, core.WindowTX, core.TargetMAC, false, 4)

			Expect(dev.ConnectionState()).To(Equal(core.ConnConnectedInfrastructure))
			_, mgmt := dev.Pending()
			Expect(mgmt).To(Equal(2))
			Expect(dev.Requests()).To(HaveLen(1))
		})

		It("should stay quiet when silenced", func() {
			dev.Silence(true)
			move(bus, core.WindowTX, core.TargetMgmt, true, 2)
			bus.WriteArray(core.RegRaw0Data, []byte{core.TypeMgmtRequest, byte(core.SubtypeCMGetStatus)})
			move(bus, core.WindowTX, core.TargetMAC, false, 2)
			_, mgmt := dev.Pending()
			Expect(mgmt).To(BeZero())
		})

		It("should keep data frames the host sends", func() {
			move(bus, core.WindowTX, core.TargetData, true, 6)
			bus.WriteArray(core.RegRaw0Data, []byte{core.TypeDataRequest, core.StdDataMsgSubtype, 1, 0, 0xca, 0xfe})
			move(bus, core.WindowTX, core.TargetMAC, false, 6)
			Expect(dev.Sent()).To(Equal([][]byte{{0xca, 0xfe}}))
			Expect(dev.PoolFree(core.TargetData)).To(Equal(uint16(2048)))
		})
	})

	Context("when hibernating", func() {
		It("should lose its state and ignore the bus", func() {
			dev.SetConnectionState(core.ConnConnectedInfrastructure, 1)
			dev.Hibernate(true)
			Expect(dev.ConnectionState()).To(Equal(core.ConnNotConnected))
			bus.Write8(core.RegHostMask, 0xff)
			Expect(bus.Read8(core.RegHostMask)).To(BeZero())
			dev.Hibernate(false)
		})
	})

	Context("when a fault is injected", func() {
		It("should raise INT2 with the cause bits", func() {
			dev.InjectFault(0x0004)
			Expect(bus.Read8(core.RegHostIntr) & core.IntINT2).ToNot(BeZero())
			Expect(bus.Read16(core.RegHostIntr2)).To(Equal(uint16(0x0004)))
			bus.Write16(core.RegHostIntr2, 0x0004)
			Expect(bus.Read8(core.RegHostIntr) & core.IntINT2).To(BeZero())
		})
	})
})
