/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package options

import (
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/multierr"
)

var logLevels = []string{"debug", "info", "warn", "error"}

func (o Options) Validate() error {
	return multierr.Combine(
		o.validateRequired(),
		o.validateFleet(),
		o.validateSlate(),
	)
}

func (o Options) validateRequired() (err error) {
	if o.DatabaseURL == "" {
		err = multierr.Append(err, fmt.Errorf("DATABASE_URL is required"))
	}
	if o.RedisAddr == "" {
		err = multierr.Append(err, fmt.Errorf("REDIS_ADDR is required"))
	}
	if !lo.Contains(logLevels, o.LogLevel) {
		err = multierr.Append(err, fmt.Errorf("log-level may only be one of %v", logLevels))
	}
	return err
}

func (o Options) validateFleet() (err error) {
	if o.Concurrency < 1 {
		err = multierr.Append(err, fmt.Errorf("concurrency must be positive"))
	}
	if o.SystemID == "" {
		err = multierr.Append(err, fmt.Errorf("system-id is required"))
	}
	if o.Deadband < 0 {
		err = multierr.Append(err, fmt.Errorf("deadband may not be negative"))
	}
	if o.FeatureCacheSize < 1 {
		err = multierr.Append(err, fmt.Errorf("feature-cache-size must be positive"))
	}
	if o.LookbackDays < 1 {
		err = multierr.Append(err, fmt.Errorf("lookback-days must be positive"))
	}
	return err
}

func (o Options) validateSlate() (err error) {
	if o.MinMinutes < 0 {
		err = multierr.Append(err, fmt.Errorf("min-minutes may not be negative"))
	}
	if o.StaleThreshold <= 0 {
		err = multierr.Append(err, fmt.Errorf("stale-threshold must be positive"))
	}
	if o.UseMultipleLines {
		if o.LineSpreadRadius <= 0 {
			err = multierr.Append(err, fmt.Errorf("line-spread-radius must be positive when multiple lines are enabled"))
		}
		if o.LineSpreadStep <= 0 {
			err = multierr.Append(err, fmt.Errorf("line-spread-step must be positive when multiple lines are enabled"))
		}
	}
	return err
}
