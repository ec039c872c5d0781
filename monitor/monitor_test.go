package monitor_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mrf24w/core"
	"mrf24w/monitor"
	"mrf24w/sim"
	"mrf24w/trace"
)

// stuckDriver fails every management call the way a dead chip does.
type stuckDriver struct {
	*core.Driver
	err error
}

func (s stuckDriver) Connect(uint8) error { return s.err }

func (s stuckDriver) CheckConnectionState() (core.ConnectionState, error) { return 0, s.err }

var _ = Describe("Monitor", func() {
	var (
		dev    *sim.Device
		drv    *core.Driver
		rec    *trace.Recorder
		server *httptest.Server
	)

	do := func(method, path string) (int, map[string]any) {
		req, err := http.NewRequest(method, server.URL+path, nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return resp.StatusCode, body
	}

	BeforeEach(func() {
		var err error
		rec, err = trace.Open(":memory:", nil)
		Expect(err).NotTo(HaveOccurred())

		dev = sim.New(sim.Options{})
		cfg := core.DefaultConfig()
		cfg.ChipSelect = dev.ChipSelect
		cfg.Hibernate = dev.Hibernate
		cfg.Reset = dev.Reset
		cfg.Tracer = rec
		drv = core.New(dev, dev.IRQ(), cfg)
		Expect(drv.Init()).To(Succeed())

		server = httptest.NewServer(monitor.New(drv, nil).WithTraces(rec).Handler())
	})

	AfterEach(func() {
		server.Close()
		drv.Close()
		rec.Close()
	})

	It("should report status", func() {
		code, body := do(http.MethodGet, "/api/status")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body["initialized"]).To(BeTrue())
		Expect(body["connected"]).To(BeFalse())
		Expect(body["transaction"]).To(Equal(core.TxnIdle.String()))
		Expect(body["power_save"]).To(Equal(core.PSOff.String()))
		Expect(body).NotTo(HaveKey("fault"))
		Expect(body["windows"]).To(HaveKey(core.WindowRX.String()))
		Expect(body["raw_history"]).NotTo(BeEmpty())
	})

	It("should connect and disconnect", func() {
		code, body := do(http.MethodPost, "/api/connect/1")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body["connected"]).To(BeTrue())
		Expect(dev.ConnectionState()).To(Equal(core.ConnConnectedInfrastructure))

		code, body = do(http.MethodGet, "/api/connection")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body["state"]).To(Equal(core.ConnConnectedInfrastructure.String()))

		code, _ = do(http.MethodPost, "/api/disconnect")
		Expect(code).To(Equal(http.StatusOK))
		Expect(drv.Connected()).To(BeFalse())
	})

	It("should refuse a disconnect while not connected", func() {
		code, body := do(http.MethodPost, "/api/disconnect")
		Expect(code).To(Equal(http.StatusConflict))
		Expect(body["error"]).To(ContainSubstring("not connected"))
		Expect(dev.Requests()).To(BeEmpty())
	})

	It("should switch power save", func() {
		do(http.MethodPost, "/api/connect/1")
		for i := 0; i < 10; i++ {
			Expect(drv.Process()).To(Succeed())
		}

		code, body := do(http.MethodPost, "/api/powersave/nodtim")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body["power_save"]).To(Equal(core.PSPollDTIMDisabled.String()))
		Expect(dev.Asleep()).To(BeTrue())

		code, body = do(http.MethodPost, "/api/powersave/off")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body["power_save"]).To(Equal(core.PSOff.String()))

		code, _ = do(http.MethodPost, "/api/powersave/sometimes")
		Expect(code).To(Equal(http.StatusBadRequest))
		Expect(dev.Violations()).To(BeZero())
	})

	It("should read device identity", func() {
		code, body := do(http.MethodGet, "/api/device")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body["mac"]).To(Equal("00:1e:c0:12:34:56"))
		Expect(body["version"]).NotTo(BeEmpty())
	})

	It("should list recorded transactions newest first", func() {
		do(http.MethodPost, "/api/connect/1")
		do(http.MethodGet, "/api/connection")

		resp, err := http.Get(server.URL + "/api/transactions?limit=5")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		var recs []map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&recs)).To(Succeed())
		Expect(recs).To(HaveLen(2))
		Expect(recs[0]["subtype"]).To(Equal(core.SubtypeCMGetStatus.String()))
		Expect(recs[1]["subtype"]).To(Equal(core.SubtypeCMConnect.String()))
		Expect(recs[1]["request"]).To(Equal(fmt.Sprintf("% x", []byte{2, 30, 1, 0})))
		Expect(recs[1]["result"]).To(Equal(core.ResultSuccess.String()))

		code, _ := do(http.MethodGet, "/api/transactions?limit=zero")
		Expect(code).To(Equal(http.StatusBadRequest))
	})

	It("should not route unknown methods", func() {
		resp, err := http.Get(server.URL + "/api/disconnect")
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
	})

	Context("when the device stops answering", func() {
		BeforeEach(func() {
			server.Close()
			stuck := stuckDriver{Driver: drv, err: fmt.Errorf("wait: %w", core.ErrDeviceUnresponsive)}
			server = httptest.NewServer(monitor.New(stuck, nil).Handler())
		})

		It("should answer 503", func() {
			code, body := do(http.MethodPost, "/api/connect/1")
			Expect(code).To(Equal(http.StatusServiceUnavailable))
			Expect(body["error"]).To(ContainSubstring("unresponsive"))

			code, _ = do(http.MethodGet, "/api/connection")
			Expect(code).To(Equal(http.StatusServiceUnavailable))
		})

		It("should report tracing as disabled", func() {
			code, _ := do(http.MethodGet, "/api/transactions")
			Expect(code).To(Equal(http.StatusNotFound))
		})
	})
})
