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

package lines

import (
	"math"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
)

// EstimateLine rounds a raw points average to the nearest half point,
// displacing the reserved 20.0 placeholder to 19.5 or 20.5 based on which
// side of 20 the raw average falls.
func EstimateLine(rawAverage float64) float64 {
	rounded := math.Round(rawAverage*2) / 2
	if rounded != prediction.PlaceholderLine {
		return rounded
	}
	if rawAverage < prediction.PlaceholderLine {
		return 19.5
	}
	return 20.5
}
