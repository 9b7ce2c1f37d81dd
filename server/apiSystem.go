package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SYNC-SYSTEM-INFO-JSON
type systemInfoJSON struct {
	UptimeSeconds   float64  `json:"uptimeSeconds"`
	NumGoroutines   int      `json:"numGoroutines"`
	HeapAllocMB     float64  `json:"heapAllocMB"`
	CPUPercent      float64  `json:"cpuPercent"`
	MemTotal        uint64   `json:"memTotal"`
	MemAvailable    uint64   `json:"memAvailable"`
	StorageTotal    uint64   `json:"storageTotal,omitempty"` // Only for filesystem storage
	StorageFree     uint64   `json:"storageFree,omitempty"`
	StorageDescribe string   `json:"storage"`
	CameraActive    bool     `json:"cameraActive"`
	CameraFPS       float64  `json:"cameraFPS"`
	Errors          []string `json:"errors,omitempty"`
}

// fpsEstimator is implemented by sources that measure their incoming frame rate
type fpsEstimator interface {
	EstimatedFPS() float64
}

func (s *Server) httpSystemInfo(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	m := runtime.MemStats{}
	runtime.ReadMemStats(&m)
	info := systemInfoJSON{
		UptimeSeconds:   time.Since(s.startedAt).Seconds(),
		NumGoroutines:   runtime.NumGoroutine(),
		HeapAllocMB:     float64(m.HeapAlloc) / 1024 / 1024,
		StorageDescribe: s.storage.Describe(),
		CameraActive:    s.source.Active(),
	}
	if fps, ok := s.source.(fpsEstimator); ok {
		info.CameraFPS = fps.EstimatedFPS()
	}

	if cpuInfo, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(cpuInfo) > 0 {
		info.CPUPercent = cpuInfo[0]
	} else if err != nil {
		info.Errors = append(info.Errors, "cpu: "+err.Error())
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.MemTotal = memInfo.Total
		info.MemAvailable = memInfo.Available
	} else {
		info.Errors = append(info.Errors, "mem: "+err.Error())
	}
	if fs := s.Config.Storage.Filesystem; fs != nil && s.Config.Storage.Minio == nil && s.Config.Storage.GCS == nil {
		if usage, err := disk.Usage(fs.Root); err == nil {
			info.StorageTotal = usage.Total
			info.StorageFree = usage.Free
		} else {
			info.Errors = append(info.Errors, "disk: "+err.Error())
		}
	}
	www.SendJSON(w, &info)
}
