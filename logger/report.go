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
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsTrades     int64
	errorsListings   int64
	warnsTrades      int64
	warnsListings    int64
	tradesIngested   int64
	listingsIngested int64
	eventsDropped    int64
	recordsPersisted int64
	archiveWrites    int64
	channels         sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "trade") {
		atomic.AddInt64(&warnsTrades, 1)
	} else if strings.Contains(component, "listing") || strings.Contains(component, "discovery") {
		atomic.AddInt64(&warnsListings, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "trade") {
		atomic.AddInt64(&errorsTrades, 1)
	} else if strings.Contains(component, "listing") || strings.Contains(component, "discovery") {
		atomic.AddInt64(&errorsListings, 1)
	}
}

func IncrementTradeIngested(size int) {
	atomic.AddInt64(&tradesIngested, 1)
	recordChannel("trades", size)
}

func IncrementListingIngested(size int) {
	atomic.AddInt64(&listingsIngested, 1)
	recordChannel("listings", size)
}

func IncrementEventDropped() {
	atomic.AddInt64(&eventsDropped, 1)
}

func IncrementRecordPersisted(count int) {
	atomic.AddInt64(&recordsPersisted, int64(count))
}

func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
	recordChannel("archive_write", int(size))
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

	fields := Fields{
		"errors_trades":     atomic.LoadInt64(&errorsTrades),
		"errors_listings":   atomic.LoadInt64(&errorsListings),
		"warns_trades":      atomic.LoadInt64(&warnsTrades),
		"warns_listings":    atomic.LoadInt64(&warnsListings),
		"trades_ingested":   atomic.LoadInt64(&tradesIngested),
		"listings_ingested": atomic.LoadInt64(&listingsIngested),
		"events_dropped":    atomic.LoadInt64(&eventsDropped),
		"records_persisted": atomic.LoadInt64(&recordsPersisted),
		"archive_writes":    atomic.LoadInt64(&archiveWrites),
		"goroutines":        runtime.NumGoroutine(),
		"cpu_percent":       cpuPct,
		"memory_mb":         int64(memStats.Used) / 1024 / 1024,
		"disk_mb":           int64(diskStats.Used) / 1024 / 1024,
		"channels":          channelData,
		"net_bytes_sent":    int64(bytesSent),
		"net_bytes_recv":    int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsTrades"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_trades"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsListings"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_listings"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsTrades"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_trades"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsListings"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_listings"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TradesIngested"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["trades_ingested"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ListingsIngested"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["listings_ingested"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("EventsDropped"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["events_dropped"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("RecordsPersisted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["records_persisted"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["archive_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
