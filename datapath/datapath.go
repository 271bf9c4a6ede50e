package datapath

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	of "github.com/netflowctl/ofcore"
	"github.com/netflowctl/ofcore/ofp"
)

// expireInterval is the fixed cadence at which every flow table's
// idle/hard timeout eviction runs. This ticker is the only thing that
// expires flow entries; lookups do not check timeouts.
const expireInterval = time.Second

// ErrNoFrameIO is returned by AddPort when the Datapath was built
// without a FrameIO to open devices through.
var ErrNoFrameIO = errors.New("datapath: no frame I/O configured")

// ErrNotConnected is returned by operations that need to reach the
// controller before Start has established a connection.
var ErrNotConnected = errors.New("datapath: not connected to a controller")

// ErrPortExists is returned by AddPort when name was already opened.
var ErrPortExists = errors.New("datapath: port already exists")

// Config gathers the fixed parameters a Datapath is initialized with:
// its identity and resource limits, and the FrameIO backing its ports.
type Config struct {
	// DatapathID is the 64-bit identifier reported in features replies.
	DatapathID uint64

	// NumBuffers is the number of packets the datapath claims it can
	// buffer at once. The software pipeline never actually withholds
	// packets pending a buffer id, so this is advertised but not
	// enforced.
	NumBuffers uint32

	// NumTables is the number of flow tables the pipeline chains
	// together. At least one.
	NumTables uint8

	// MaxFlowEntries bounds each table's entry count; zero means
	// unbounded.
	MaxFlowEntries int

	// MaxSendQueue and MaxRecvQueue bound the per-port queue depth
	// passed to FrameIO.Open.
	MaxSendQueue int
	MaxRecvQueue int

	// FrameIO opens the link-layer devices AddPort attaches to the
	// pipeline. Required before the first AddPort call.
	FrameIO FrameIO

	Log *logrus.Logger
}

func (cfg *Config) logger() *logrus.Logger {
	if cfg.Log != nil {
		return cfg.Log
	}
	return logrus.StandardLogger()
}

// Datapath is a complete software OpenFlow 1.3 switch: a chain of flow
// tables and a group table driven by a Pipeline, zero or more ports
// backed by a FrameIO, and the single controller connection it dials
// out to.
//
// Unlike the of package's Controller, which only accepts incoming
// switch connections, a Datapath plays the client role the wire
// protocol assigns the switch: it opens the TCP connection to the
// controller, sends the first Hello, and answers whatever the
// controller subsequently asks of it.
type Datapath struct {
	cfg      Config
	pipeline *Pipeline

	mu       sync.Mutex
	ports    map[string]ofp.PortNo
	devices  map[ofp.PortNo]Device
	portDown map[ofp.PortNo]bool
	nextPort ofp.PortNo
	config   ofp.SwitchConfig

	connMu sync.Mutex
	conn   of.Conn

	stop chan struct{}
	wg   sync.WaitGroup
}

// New initializes a Datapath from cfg: n_tables software flow tables,
// each bounded by MaxFlowEntries, and an empty group table, wired
// together by a Pipeline whose Output and OnError deliver to whatever
// controller connection Start later establishes.
func New(cfg Config) *Datapath {
	if cfg.NumTables == 0 {
		cfg.NumTables = 1
	}

	tables := make([]*FlowTable, cfg.NumTables)
	for i := range tables {
		tables[i] = NewFlowTable(ofp.Table(i), cfg.MaxFlowEntries)
	}

	d := &Datapath{
		cfg:      cfg,
		ports:    make(map[string]ofp.PortNo),
		devices:  make(map[ofp.PortNo]Device),
		portDown: make(map[ofp.PortNo]bool),
		config:   ofp.SwitchConfig{MissSendLength: 128},
	}

	groups := NewGroupTable()
	groups.Ports = d

	d.pipeline = &Pipeline{
		Tables:           tables,
		Groups:           groups,
		TableMissSendLen: d.config.MissSendLength,
		Output:           d.output,
		OnError:          d.onPipelineError,
		Log:              cfg.Log,
	}

	for _, t := range tables {
		t.OnRemoved = d.onFlowRemoved
	}

	return d
}

// PortUp implements PortState for the datapath's own group table, so
// FAST_FAILOVER buckets watch the same port liveness AddPort and
// SetPortDown track.
func (d *Datapath) PortUp(port ofp.PortNo) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.portDown[port]
}

// SetPortDown marks port administratively or physically down (or back
// up), for FAST_FAILOVER liveness and port_status notification.
func (d *Datapath) SetPortDown(port ofp.PortNo, down bool) {
	d.mu.Lock()
	d.portDown[port] = down
	name := d.portName(port)
	d.mu.Unlock()

	d.notifyPortStatus(ofp.PortReasonModify, port, name)
}

func (d *Datapath) portName(port ofp.PortNo) string {
	for name, p := range d.ports {
		if p == port {
			return name
		}
	}
	return ""
}

// AddPort opens name through the configured FrameIO and wires its
// inbound frames into the pipeline starting at table 0. Port numbers
// are assigned sequentially starting at 1.
func (d *Datapath) AddPort(name string) (ofp.PortNo, error) {
	if d.cfg.FrameIO == nil {
		return 0, ErrNoFrameIO
	}

	d.mu.Lock()
	if _, ok := d.ports[name]; ok {
		d.mu.Unlock()
		return 0, ErrPortExists
	}
	d.mu.Unlock()

	dev, err := d.cfg.FrameIO.Open(name, d.cfg.MaxSendQueue, d.cfg.MaxRecvQueue)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	d.nextPort++
	port := d.nextPort
	d.ports[name] = port
	d.devices[port] = dev
	d.mu.Unlock()

	dev.SetFrameReceived(func(frame []byte) {
		d.handleFrame(port, frame)
	})

	d.notifyPortStatus(ofp.PortReasonAdd, port, name)

	return port, nil
}

func (d *Datapath) handleFrame(port ofp.PortNo, frame []byte) {
	pc := NewPacketContext(frame, port)
	d.pipeline.Process(pc)
}

// output implements Pipeline.Output: deliver pc to port's Device, or
// build and send a packet_in when port is PortController.
//
// The Pipeline does not distinguish a table-miss send-to-controller
// from an explicit output-to-controller action, so every controller
// delivery is reported as PacketInReasonAction; only the flow table's
// own miss handling is structurally a NO_MATCH and would need a
// dedicated signal from Pipeline to report that reason accurately.
func (d *Datapath) output(port ofp.PortNo, pc *PacketContext, maxLen uint16) {
	if port == ofp.PortController {
		d.sendPacketIn(pc, maxLen)
		return
	}

	d.mu.Lock()
	dev := d.devices[port]
	d.mu.Unlock()

	if dev == nil {
		return
	}

	if err := dev.SendFrame(pc.Buffer.Bytes()); err != nil {
		d.cfg.logger().WithError(err).WithField("port", port).Warn("datapath: send frame failed")
	}
}

func (d *Datapath) sendPacketIn(pc *PacketContext, maxLen uint16) {
	data := pc.Buffer.Bytes()
	if maxLen != ofp.ContentLenNoBuffer && int(maxLen) < len(data) {
		data = data[:maxLen]
	}

	pi := &ofp.PacketIn{
		Buffer: ofp.NoBuffer,
		Length: uint16(pc.Buffer.Len()),
		Reason: ofp.PacketInReasonAction,
		Match:  pc.Match(),
		Data:   data,
	}

	if err := d.sendMessage(of.TypePacketIn, pi); err != nil {
		d.cfg.logger().WithError(err).Debug("datapath: packet_in not delivered")
	}
}

func (d *Datapath) onFlowRemoved(ev RemovedEvent) {
	e := ev.Entry
	age := e.Age(time.Now())

	fr := &ofp.FlowRemoved{
		Cookie:       e.Cookie,
		Priority:     e.Priority,
		Reason:       ev.Reason,
		Table:        ev.Table,
		DurationSec:  uint32(age / time.Second),
		DurationNSec: uint32(age % time.Second),
		IdleTimeout:  e.IdleTimeout,
		HardTimeout:  e.HardTimeout,
		PacketCount:  e.PacketCount,
		ByteCount:    e.ByteCount,
		Match:        e.Match,
	}

	if err := d.sendMessage(of.TypeFlowRemoved, fr); err != nil {
		d.cfg.logger().WithError(err).Debug("datapath: flow_removed not delivered")
	}
}

func (d *Datapath) onPipelineError(pc *PacketContext, err error) {
	if !errors.Is(err, ErrBadOutGroup) {
		return
	}

	ofErr := &ofp.Error{Type: ofp.ErrTypeBadAction, Code: ofp.ErrCodeBadActionOutGroup}
	if err := d.sendMessage(of.TypeError, ofErr); err != nil {
		d.cfg.logger().WithError(err).Debug("datapath: error reply not delivered")
	}
}

func (d *Datapath) notifyPortStatus(reason ofp.PortReason, port ofp.PortNo, name string) {
	ps := &ofp.PortStatus{
		Reason: reason,
		Port: ofp.Port{
			PortNo: port,
			Name:   name,
			HWAddr: make(net.HardwareAddr, 6),
		},
	}

	if err := d.sendMessage(of.TypePortStatus, ps); err != nil {
		d.cfg.logger().WithError(err).Debug("datapath: port_status not delivered")
	}
}

// Features returns the switch features reply body, per get_features.
func (d *Datapath) Features() ofp.SwitchFeatures {
	d.mu.Lock()
	defer d.mu.Unlock()

	return ofp.SwitchFeatures{
		DatapathID: d.cfg.DatapathID,
		NumBuffers: d.cfg.NumBuffers,
		NumTables:  d.cfg.NumTables,
	}
}

// GetConfig returns the current switch configuration.
func (d *Datapath) GetConfig() ofp.SwitchConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// SetConfig installs cfg, propagating MissSendLength to the pipeline's
// table-miss packet_in truncation.
func (d *Datapath) SetConfig(cfg ofp.SwitchConfig) {
	d.mu.Lock()
	d.config = cfg
	d.mu.Unlock()

	d.pipeline.TableMissSendLen = cfg.MissSendLength
}

func (d *Datapath) sendMessage(t of.Type, body io.WriterTo) error {
	var buf bytes.Buffer
	if err := writeBody(&buf, body); err != nil {
		return err
	}

	req, err := of.NewRequest(t, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return err
	}

	return d.send(req)
}

func writeBody(buf *bytes.Buffer, body io.WriterTo) error {
	if body == nil {
		return nil
	}
	_, err := body.WriteTo(buf)
	return err
}

func (d *Datapath) send(req *of.Request) error {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	if d.conn == nil {
		return ErrNotConnected
	}

	if err := d.conn.Send(req); err != nil {
		return err
	}
	return d.conn.Flush()
}

// Start dials the controller at addr over network ("tcp" in
// production, any of net.Dial's networks in tests), completes the
// handshake's first half by sending the initial Hello, and begins
// serving controller requests and driving flow table expiry in
// background goroutines. It returns once the connection is
// established; handshake completion and subsequent traffic happen
// asynchronously.
func (d *Datapath) Start(network, addr string) error {
	conn, err := of.Dial(network, addr)
	if err != nil {
		return err
	}

	d.connMu.Lock()
	d.conn = conn
	d.connMu.Unlock()

	hello, _ := of.NewRequest(of.TypeHello, nil)
	if err := d.send(hello); err != nil {
		conn.Close()
		return err
	}

	d.stop = make(chan struct{})

	d.wg.Add(2)
	go d.expireLoop()
	go d.serve(conn)

	return nil
}

// Stop closes the controller connection and stops the expiry loop,
// along with every port's Device.
func (d *Datapath) Stop() error {
	d.connMu.Lock()
	conn := d.conn
	d.connMu.Unlock()

	if d.stop != nil {
		close(d.stop)
	}

	var err error
	if conn != nil {
		err = conn.Close()
	}

	d.wg.Wait()

	d.mu.Lock()
	devices := make([]Device, 0, len(d.devices))
	for _, dev := range d.devices {
		devices = append(devices, dev)
	}
	d.mu.Unlock()

	for _, dev := range devices {
		dev.Close()
	}

	return err
}

func (d *Datapath) expireLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(expireInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			for _, t := range d.pipeline.Tables {
				t.ExpireOnce(now)
			}
		case <-d.stop:
			return
		}
	}
}

// serve reads requests off conn until it closes or errors, dispatching
// each to the handler for its message type.
func (d *Datapath) serve(conn of.Conn) {
	defer d.wg.Done()

	for {
		req, err := conn.Receive()
		if err != nil {
			return
		}

		d.dispatch(req)
	}
}

func (d *Datapath) dispatch(req *of.Request) {
	switch req.Header.Type {
	case of.TypeHello:
		// Version negotiation against the controller's Hello is the
		// of package's job on the controller side; a datapath that
		// already completed Dial has nothing further to check here.

	case of.TypeEchoRequest:
		body, _ := io.ReadAll(req.Body)
		reply, _ := of.NewRequest(of.TypeEchoReply, bytes.NewReader(body))
		reply.Header.XID = req.Header.XID
		d.send(reply)

	case of.TypeFeaturesRequest:
		d.replyFeatures(req)

	case of.TypeGetConfigRequest:
		d.replyGetConfig(req)

	case of.TypeSetConfig:
		var cfg ofp.SwitchConfig
		if _, err := cfg.ReadFrom(req.Body); err == nil {
			d.SetConfig(cfg)
		}

	case of.TypeFlowMod:
		d.applyFlowMod(req)

	case of.TypeGroupMod:
		d.applyGroupMod(req)

	case of.TypePortMod:
		d.applyPortMod(req)

	case of.TypePacketOut:
		d.applyPacketOut(req)

	case of.TypeMeterMod:
		// Metering bands are out of scope for the software pipeline
		// (see Pipeline.evalInstructions); accepted and ignored.

	default:
		d.sendError(req, ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestBadType)
	}
}

func (d *Datapath) replyFeatures(req *of.Request) {
	features := d.Features()
	reply, _ := of.NewRequest(of.TypeFeaturesReply, nil)
	var buf bytes.Buffer
	features.WriteTo(&buf)
	reply.Body = bytes.NewReader(buf.Bytes())
	reply.Header.XID = req.Header.XID
	d.send(reply)
}

func (d *Datapath) replyGetConfig(req *of.Request) {
	cfg := d.GetConfig()
	var buf bytes.Buffer
	cfg.WriteTo(&buf)
	reply, _ := of.NewRequest(of.TypeGetConfigReply, bytes.NewReader(buf.Bytes()))
	reply.Header.XID = req.Header.XID
	d.send(reply)
}

func (d *Datapath) applyFlowMod(req *of.Request) {
	var mod ofp.FlowMod
	if _, err := mod.ReadFrom(req.Body); err != nil {
		d.sendError(req, ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen)
		return
	}

	if int(mod.Table) >= len(d.pipeline.Tables) {
		d.sendError(req, ofp.ErrTypeFlowModFailed, ofp.ErrCodeFlowModFailedBadTableID)
		return
	}

	table := d.pipeline.Tables[mod.Table]
	if err := table.Apply(&mod); err != nil {
		d.sendError(req, ofp.ErrTypeFlowModFailed, flowModFailedCode(err))
	}
}

func flowModFailedCode(err error) ofp.ErrCode {
	switch {
	case errors.Is(err, ErrTableFull):
		return ofp.ErrCodeFlowModFailedTableFull
	case errors.Is(err, ErrOverlap):
		return ofp.ErrCodeFlowModFailedOverlap
	default:
		return ofp.ErrCodeFlowModFailedUnknown
	}
}

func (d *Datapath) applyGroupMod(req *of.Request) {
	var mod ofp.GroupMod
	if _, err := mod.ReadFrom(req.Body); err != nil {
		d.sendError(req, ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen)
		return
	}

	d.pipeline.Groups.Apply(&mod)
}

func (d *Datapath) applyPortMod(req *of.Request) {
	var mod ofp.PortMod
	if _, err := mod.ReadFrom(req.Body); err != nil {
		d.sendError(req, ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen)
		return
	}

	down := mod.Config&ofp.PortConfigDown != 0
	d.SetPortDown(mod.PortNo, down)
}

func (d *Datapath) applyPacketOut(req *of.Request) {
	var out ofp.PacketOut
	if _, err := out.ReadFrom(req.Body); err != nil {
		d.sendError(req, ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen)
		return
	}

	data, _ := io.ReadAll(req.Body)
	pc := NewPacketContext(data, out.InPort)
	d.pipeline.ExecuteActionList(pc, out.Actions)
}

func (d *Datapath) sendError(failed *of.Request, errType ofp.ErrType, code ofp.ErrCode) {
	ofErr := &ofp.Error{Type: errType, Code: code}
	var buf bytes.Buffer
	ofErr.WriteTo(&buf)

	reply, _ := of.NewRequest(of.TypeError, bytes.NewReader(buf.Bytes()))
	reply.Header.XID = failed.Header.XID
	d.send(reply)
}
