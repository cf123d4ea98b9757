package rules

import (
	"fmt"
	"math"
)

// Fixed per-check scores. The graded checks (amount, velocity) scale
// with severity and cap below these where noted.
const (
	scoreBlacklisted = 0.9
	scoreNewIP       = 0.7
	scoreNewLocation = 0.7
	scoreNewCategory = 0.5
	scoreOffHours    = 0.6
	scoreNewDevice   = 0.6

	amountScoreCap   = 0.9
	velocityScoreCap = 0.8
)

// BlacklistCheck flags transactions from known-bad source IPs.
type BlacklistCheck struct{}

func (BlacklistCheck) Name() string { return "blacklisted_ip" }

func (c BlacklistCheck) Evaluate(ec *EvalContext) CheckResult {
	if ec.Blacklist == nil || !ec.Blacklist.Contains(ec.Txn.SourceIP) {
		return CheckResult{Name: c.Name()}
	}
	return CheckResult{
		Name:       c.Name(),
		Suspicious: true,
		Score:      scoreBlacklisted,
		Reason:     fmt.Sprintf("source IP %s is blacklisted", ec.Txn.SourceIP),
	}
}

// NewIPCheck flags source addresses the user has never transacted from.
// A blacklisted IP is left to BlacklistCheck, which scores it higher.
type NewIPCheck struct{}

func (NewIPCheck) Name() string { return "new_ip" }

func (c NewIPCheck) Evaluate(ec *EvalContext) CheckResult {
	if len(ec.Profile.IPs) == 0 || ec.Profile.HasIP(ec.Txn.SourceIP) {
		return CheckResult{Name: c.Name()}
	}
	if ec.Blacklist != nil && ec.Blacklist.Contains(ec.Txn.SourceIP) {
		return CheckResult{Name: c.Name()}
	}
	return CheckResult{
		Name:       c.Name(),
		Suspicious: true,
		Score:      scoreNewIP,
		Reason:     fmt.Sprintf("new source IP %s for this user", ec.Txn.SourceIP),
	}
}

// NewLocationCheck flags geolocations outside the user's history.
type NewLocationCheck struct{}

func (NewLocationCheck) Name() string { return "new_location" }

func (c NewLocationCheck) Evaluate(ec *EvalContext) CheckResult {
	if ec.Txn.Geolocation == "" || len(ec.Profile.Locations) == 0 ||
		ec.Profile.HasLocation(ec.Txn.Geolocation) {
		return CheckResult{Name: c.Name()}
	}
	return CheckResult{
		Name:       c.Name(),
		Suspicious: true,
		Score:      scoreNewLocation,
		Reason:     fmt.Sprintf("transaction from unusual location %q", ec.Txn.Geolocation),
	}
}

// AmountDeviationCheck flags amounts well above the user's average.
// The score grows with the overshoot and caps at 0.9.
type AmountDeviationCheck struct{}

func (AmountDeviationCheck) Name() string { return "amount_deviation" }

func (c AmountDeviationCheck) Evaluate(ec *EvalContext) CheckResult {
	avg := ec.Profile.AvgAmount
	if avg <= 0 {
		return CheckResult{Name: c.Name()}
	}
	amount := ec.Txn.AmountFloat()
	threshold := avg * ec.Params.AmountFactor
	if amount <= threshold {
		return CheckResult{Name: c.Name()}
	}
	score := math.Min(amountScoreCap, amount/threshold*0.5)
	return CheckResult{
		Name:       c.Name(),
		Suspicious: true,
		Score:      score,
		Reason: fmt.Sprintf("amount %.2f exceeds %.1fx the user average %.2f",
			amount, ec.Params.AmountFactor, avg),
	}
}

// NewCategoryCheck flags spending categories outside the user's history.
type NewCategoryCheck struct{}

func (NewCategoryCheck) Name() string { return "new_category" }

func (c NewCategoryCheck) Evaluate(ec *EvalContext) CheckResult {
	if ec.Txn.Category == "" || len(ec.Profile.Categories) == 0 ||
		ec.Profile.HasCategory(ec.Txn.Category) {
		return CheckResult{Name: c.Name()}
	}
	return CheckResult{
		Name:       c.Name(),
		Suspicious: true,
		Score:      scoreNewCategory,
		Reason:     fmt.Sprintf("unusual spending category %q", ec.Txn.Category),
	}
}

// OffHoursCheck flags overnight transactions at hours the user is not
// normally active.
type OffHoursCheck struct{}

func (OffHoursCheck) Name() string { return "off_hours" }

func (c OffHoursCheck) Evaluate(ec *EvalContext) CheckResult {
	hour := ec.Txn.Hour()
	if hour < ec.Params.OffHoursStart || hour > ec.Params.OffHoursEnd {
		return CheckResult{Name: c.Name()}
	}
	if len(ec.Profile.TypicalHours) == 0 || ec.Profile.HasTypicalHour(hour) {
		return CheckResult{Name: c.Name()}
	}
	return CheckResult{
		Name:       c.Name(),
		Suspicious: true,
		Score:      scoreOffHours,
		Reason:     fmt.Sprintf("transaction at unusual hour %d:00", hour),
	}
}

// VelocityCheck flags bursts of transactions in the trailing hour.
// The score grows with the burst size and caps at 0.8.
type VelocityCheck struct{}

func (VelocityCheck) Name() string { return "velocity" }

func (c VelocityCheck) Evaluate(ec *EvalContext) CheckResult {
	limit := ec.Params.VelocityPerHour
	if limit <= 0 || ec.RecentCount < limit {
		return CheckResult{Name: c.Name()}
	}
	score := math.Min(velocityScoreCap, float64(ec.RecentCount)/float64(limit)*0.4)
	return CheckResult{
		Name:       c.Name(),
		Suspicious: true,
		Score:      score,
		Reason: fmt.Sprintf("%d transactions in the last hour (limit %d)",
			ec.RecentCount, limit),
	}
}

// NewDeviceCheck flags devices outside the user's history.
type NewDeviceCheck struct{}

func (NewDeviceCheck) Name() string { return "new_device" }

func (c NewDeviceCheck) Evaluate(ec *EvalContext) CheckResult {
	if ec.Txn.DeviceID == "" || len(ec.Profile.Devices) == 0 ||
		ec.Profile.HasDevice(ec.Txn.DeviceID) {
		return CheckResult{Name: c.Name()}
	}
	return CheckResult{
		Name:       c.Name(),
		Suspicious: true,
		Score:      scoreNewDevice,
		Reason:     fmt.Sprintf("transaction from unknown device %q", ec.Txn.DeviceID),
	}
}
