package handlers

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/frostdev-ops/action-result-bridge/pkg/utils"
)

// SystemStatus reports host resource usage for diagnostics
func (h *Handlers) SystemStatus(c *gin.Context) {
	status := gin.H{
		"goroutines": runtime.NumGoroutine(),
	}

	if hostInfo, err := host.Info(); err == nil {
		status["host"] = gin.H{
			"hostname":       hostInfo.Hostname,
			"os":             hostInfo.OS,
			"platform":       hostInfo.Platform,
			"uptime_seconds": hostInfo.Uptime,
		}
	}

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		status["cpu_percent"] = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		status["memory"] = gin.H{
			"total":        memInfo.Total,
			"used":         memInfo.Used,
			"used_percent": memInfo.UsedPercent,
		}
	}

	if diskUsage, err := disk.Usage("/"); err == nil {
		status["disk"] = gin.H{
			"total":        diskUsage.Total,
			"used":         diskUsage.Used,
			"used_percent": diskUsage.UsedPercent,
		}
	}

	if len(status) == 1 {
		utils.SendError(c, http.StatusInternalServerError, "Failed to collect system status")
		return
	}

	utils.SendSuccess(c, status)
}
