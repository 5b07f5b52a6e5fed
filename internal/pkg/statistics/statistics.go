package statistics

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/licensefox/licensefox/app/models"
	"github.com/licensefox/licensefox/internal/pkg/cache"
	"github.com/licensefox/licensefox/internal/pkg/database"
)

const (
	CacheKeyLicensesTotal  = "statistics:licenses:total"
	CacheKeyLicensesActive = "statistics:licenses:active"
	CacheKeyLicensesDaily  = "statistics:licenses:daily:%s" // Format with date YYYY-MM-DD
	CacheKeyRevenueTotal   = "statistics:revenue:total"
	CacheExpiration        = 30 * time.Minute
)

// StatisticsData holds the aggregate numbers shown on the admin dashboard
type StatisticsData struct {
	TotalLicenses  int
	ActiveLicenses int
	TodayLicenses  int
	TotalRevenue   float64
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// ShouldUpdateCache reports whether the cached statistics are stale
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded refreshes the statistics cache when it is stale
func UpdateCacheIfNeeded() {
	if ShouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("Error updating statistics cache: %v", err)
		} else {
			lastCacheUpdate = time.Now()
		}
	}
}

// ResetCacheUpdateTimer forces the next UpdateCacheIfNeeded to refresh
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	lastCacheUpdate = time.Time{}
}

// UpdateStatisticsCache updates all statistics in the cache
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalLicenses int64
	if err := db.Model(&models.License{}).Count(&totalLicenses).Error; err != nil {
		log.Printf("Error counting total licenses: %v", err)
		return err
	}

	var activeLicenses int64
	if err := db.Model(&models.License{}).Where("status = ?", models.LicenseStatusActive).Count(&activeLicenses).Error; err != nil {
		log.Printf("Error counting active licenses: %v", err)
		return err
	}

	var todayLicenses int64
	today := time.Now().Format("2006-01-02")
	todayStart, _ := time.Parse("2006-01-02", today)
	todayEnd := todayStart.Add(24 * time.Hour)

	if err := db.Model(&models.License{}).Where("created_at BETWEEN ? AND ?", todayStart, todayEnd).Count(&todayLicenses).Error; err != nil {
		log.Printf("Error counting today's licenses: %v", err)
		return err
	}

	var totalRevenue float64
	if err := db.Model(&models.Payment{}).Where("status = ?", models.PaymentStatusSucceeded).
		Select("COALESCE(SUM(amount), 0)").Row().Scan(&totalRevenue); err != nil {
		log.Printf("Error summing revenue: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyLicensesTotal, strconv.FormatInt(totalLicenses, 10), CacheExpiration); err != nil {
		log.Printf("Error caching total licenses: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyLicensesActive, strconv.FormatInt(activeLicenses, 10), CacheExpiration); err != nil {
		log.Printf("Error caching active licenses: %v", err)
		return err
	}

	dailyKey := fmt.Sprintf(CacheKeyLicensesDaily, today)
	if err := cache.Set(dailyKey, strconv.FormatInt(todayLicenses, 10), CacheExpiration); err != nil {
		log.Printf("Error caching today's licenses: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyRevenueTotal, strconv.FormatFloat(totalRevenue, 'f', 2, 64), CacheExpiration); err != nil {
		log.Printf("Error caching total revenue: %v", err)
		return err
	}

	log.Printf("Statistics updated in cache: Total: %d, Active: %d, Today: %d, Revenue: %.2f",
		totalLicenses, activeLicenses, todayLicenses, totalRevenue)

	return nil
}

// GetTotalLicenses returns the total number of licenses from cache or database
func GetTotalLicenses() int {
	return getCachedInt(CacheKeyLicensesTotal, countTotalLicenses)
}

// GetStatisticsData returns all statistics as a StatisticsData structure
func GetStatisticsData() StatisticsData {
	UpdateCacheIfNeeded()

	return StatisticsData{
		TotalLicenses:  getCachedInt(CacheKeyLicensesTotal, countTotalLicenses),
		ActiveLicenses: getCachedInt(CacheKeyLicensesActive, countActiveLicenses),
		TodayLicenses:  getCachedInt(fmt.Sprintf(CacheKeyLicensesDaily, time.Now().Format("2006-01-02")), countTodayLicenses),
		TotalRevenue:   getCachedFloat(CacheKeyRevenueTotal, sumRevenue),
	}
}

func getCachedInt(key string, fallback func() int64) int {
	val, err := cache.Get(key)
	if err != nil {
		count := fallback()
		if err := cache.Set(key, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
			log.Printf("Error caching %s: %v", key, err)
		}
		return int(count)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return int(count)
}

func getCachedFloat(key string, fallback func() float64) float64 {
	val, err := cache.Get(key)
	if err != nil {
		sum := fallback()
		if err := cache.Set(key, strconv.FormatFloat(sum, 'f', 2, 64), CacheExpiration); err != nil {
			log.Printf("Error caching %s: %v", key, err)
		}
		return sum
	}

	sum, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0
	}
	return sum
}

func countTotalLicenses() int64 {
	var count int64
	if err := database.GetDB().Model(&models.License{}).Count(&count).Error; err != nil {
		log.Printf("Error counting total licenses: %v", err)
		return 0
	}
	return count
}

func countActiveLicenses() int64 {
	var count int64
	if err := database.GetDB().Model(&models.License{}).Where("status = ?", models.LicenseStatusActive).Count(&count).Error; err != nil {
		log.Printf("Error counting active licenses: %v", err)
		return 0
	}
	return count
}

func countTodayLicenses() int64 {
	today := time.Now().Format("2006-01-02")
	todayStart, _ := time.Parse("2006-01-02", today)
	todayEnd := todayStart.Add(24 * time.Hour)

	var count int64
	if err := database.GetDB().Model(&models.License{}).Where("created_at BETWEEN ? AND ?", todayStart, todayEnd).Count(&count).Error; err != nil {
		log.Printf("Error counting today's licenses: %v", err)
		return 0
	}
	return count
}

func sumRevenue() float64 {
	var sum float64
	if err := database.GetDB().Model(&models.Payment{}).Where("status = ?", models.PaymentStatusSucceeded).
		Select("COALESCE(SUM(amount), 0)").Row().Scan(&sum); err != nil {
		log.Printf("Error summing revenue: %v", err)
		return 0
	}
	return sum
}
