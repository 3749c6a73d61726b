package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsFeed     int64
	errorsStrategy int64
	warnsFeed      int64
	warnsStrategy  int64
	ticksDecoded   int64
	framesDropped  int64
	signalsEmitted int64
	tradesExecuted int64
	broadcastsSent int64
	persistWrites  int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "feed") || strings.Contains(component, "decoder") {
		atomic.AddInt64(&warnsFeed, 1)
	} else if strings.Contains(component, "strategy") || strings.Contains(component, "engine") {
		atomic.AddInt64(&warnsStrategy, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "feed") || strings.Contains(component, "decoder") {
		atomic.AddInt64(&errorsFeed, 1)
	} else if strings.Contains(component, "strategy") || strings.Contains(component, "engine") {
		atomic.AddInt64(&errorsStrategy, 1)
	}
}

func IncrementTickDecoded(size int) {
	atomic.AddInt64(&ticksDecoded, 1)
	recordChannel("feed_ws", size)
}

func IncrementFrameDropped() {
	atomic.AddInt64(&framesDropped, 1)
}

func IncrementSignalEmitted() {
	atomic.AddInt64(&signalsEmitted, 1)
}

func IncrementTradeExecuted() {
	atomic.AddInt64(&tradesExecuted, 1)
}

func IncrementBroadcastSent(size int) {
	atomic.AddInt64(&broadcastsSent, 1)
	recordChannel("broadcast_ws", size)
}

func IncrementPersistWrite(size int) {
	atomic.AddInt64(&persistWrites, 1)
	recordChannel("persistence", size)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	memMB := int64(0)
	if memStats != nil {
		memMB = int64(memStats.Used) / 1024 / 1024
	}
	diskMB := int64(0)
	if diskStats != nil {
		diskMB = int64(diskStats.Used) / 1024 / 1024
	}

	fields := Fields{
		"errors_feed":     atomic.LoadInt64(&errorsFeed),
		"errors_strategy": atomic.LoadInt64(&errorsStrategy),
		"warns_feed":      atomic.LoadInt64(&warnsFeed),
		"warns_strategy":  atomic.LoadInt64(&warnsStrategy),
		"ticks_decoded":   atomic.LoadInt64(&ticksDecoded),
		"frames_dropped":  atomic.LoadInt64(&framesDropped),
		"signals_emitted": atomic.LoadInt64(&signalsEmitted),
		"trades_executed": atomic.LoadInt64(&tradesExecuted),
		"broadcasts_sent": atomic.LoadInt64(&broadcastsSent),
		"persist_writes":  atomic.LoadInt64(&persistWrites),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       memMB,
		"disk_mb":         diskMB,
		"channels":        channelData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("system report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memMB))},
		{MetricName: aws.String("TicksDecoded"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&ticksDecoded)))},
		{MetricName: aws.String("SignalsEmitted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&signalsEmitted)))},
		{MetricName: aws.String("TradesExecuted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&tradesExecuted)))},
	}
	publishMetrics(ctx, data)
}
