package factor

import (
	"fmt"
	"math"

	"strategos/internal/dataset"
	"strategos/internal/model"
)

func init() {
	registerBuiltins()
}

func registerBuiltins() {
	builtins := []Definition{
		{
			Type:           "sma",
			Category:       model.CategoryTrend,
			Params:         []ParamSpec{{Name: "window", Min: 2, Max: 200, Default: 20}},
			InputSlots:     []string{"series"},
			OutputSuffixes: []string{""},
			Transform:      TransformFunc(applySMA),
		},
		{
			Type:           "ema",
			Category:       model.CategoryTrend,
			Params:         []ParamSpec{{Name: "window", Min: 2, Max: 200, Default: 12}},
			InputSlots:     []string{"series"},
			OutputSuffixes: []string{""},
			Transform:      TransformFunc(applyEMA),
		},
		{
			Type:           "momentum",
			Category:       model.CategoryMomentum,
			Params:         []ParamSpec{{Name: "window", Min: 1, Max: 200, Default: 10}},
			InputSlots:     []string{"series"},
			OutputSuffixes: []string{""},
			Transform:      TransformFunc(applyMomentum),
		},
		{
			Type:           "rsi",
			Category:       model.CategoryMomentum,
			Params:         []ParamSpec{{Name: "window", Min: 2, Max: 100, Default: 14}},
			InputSlots:     []string{"series"},
			OutputSuffixes: []string{""},
			Transform:      TransformFunc(applyRSI),
		},
		{
			Type:           "zscore",
			Category:       model.CategoryMomentum,
			Params:         []ParamSpec{{Name: "window", Min: 2, Max: 200, Default: 20}},
			InputSlots:     []string{"series"},
			OutputSuffixes: []string{""},
			Transform:      TransformFunc(applyZScore),
		},
		{
			Type:           "volatility",
			Category:       model.CategoryVolatility,
			Params:         []ParamSpec{{Name: "window", Min: 2, Max: 200, Default: 20}},
			InputSlots:     []string{"series"},
			OutputSuffixes: []string{""},
			Transform:      TransformFunc(applyVolatility),
		},
		{
			Type:     "bollinger",
			Category: model.CategoryVolatility,
			Params: []ParamSpec{
				{Name: "window", Min: 2, Max: 200, Default: 20},
				{Name: "width", Min: 0.5, Max: 4, Default: 2},
			},
			InputSlots:     []string{"series"},
			OutputSuffixes: []string{"upper", "lower"},
			Transform:      TransformFunc(applyBollinger),
		},
		{
			Type:           "threshold_entry",
			Category:       model.CategoryEntry,
			Params:         []ParamSpec{{Name: "threshold", Min: -100, Max: 100, Default: 0}},
			InputSlots:     []string{"series"},
			OutputSuffixes: []string{"gate"},
			Transform:      TransformFunc(applyThresholdAbove),
		},
		{
			Type:           "threshold_exit",
			Category:       model.CategoryExit,
			Params:         []ParamSpec{{Name: "threshold", Min: -100, Max: 100, Default: 0}},
			InputSlots:     []string{"series"},
			OutputSuffixes: []string{"gate"},
			Transform:      TransformFunc(applyThresholdBelow),
		},
		{
			Type:           "vol_scale",
			Category:       model.CategoryRisk,
			Params:         []ParamSpec{{Name: "target", Min: 0.001, Max: 1, Default: 0.02}},
			InputSlots:     []string{"vol"},
			OutputSuffixes: []string{"scale"},
			Transform:      TransformFunc(applyVolScale),
		},
		{
			Type:          "cross_signal",
			Category:      model.CategorySignal,
			InputSlots:    []string{"fast", "slow"},
			EmitsPosition: true,
			Transform:     TransformFunc(applyCrossSignal),
		},
		{
			Type:          "band_signal",
			Category:      model.CategorySignal,
			InputSlots:    []string{"series", "upper", "lower"},
			EmitsPosition: true,
			Transform:     TransformFunc(applyBandSignal),
		},
		exprSignalDefinition(),
	}
	for _, def := range builtins {
		if err := Register(def); err != nil {
			panic(fmt.Sprintf("register builtin factor %s: %v", def.Type, err))
		}
	}
}

func inputColumn(ds *dataset.Dataset, f model.Factor, slot int) ([]float64, error) {
	if slot >= len(f.Inputs) {
		return nil, fmt.Errorf("%w: %s missing input slot %d", ErrInputArity, f.Type, slot)
	}
	return ds.Column(f.Inputs[slot])
}

func applySMA(ds *dataset.Dataset, f model.Factor) error {
	series, err := inputColumn(ds, f, 0)
	if err != nil {
		return err
	}
	window, err := WindowParam(f, "window")
	if err != nil {
		return err
	}

	out := make([]float64, len(series))
	sum := 0.0
	for i, v := range series {
		sum += v
		if i >= window {
			sum -= series[i-window]
		}
		n := i + 1
		if n > window {
			n = window
		}
		out[i] = sum / float64(n)
	}
	return ds.SetColumn(f.Outputs[0], out)
}

func applyEMA(ds *dataset.Dataset, f model.Factor) error {
	series, err := inputColumn(ds, f, 0)
	if err != nil {
		return err
	}
	window, err := WindowParam(f, "window")
	if err != nil {
		return err
	}

	alpha := 2.0 / float64(window+1)
	out := make([]float64, len(series))
	for i, v := range series {
		if i == 0 {
			out[i] = v
			continue
		}
		out[i] = alpha*v + (1-alpha)*out[i-1]
	}
	return ds.SetColumn(f.Outputs[0], out)
}

func applyMomentum(ds *dataset.Dataset, f model.Factor) error {
	series, err := inputColumn(ds, f, 0)
	if err != nil {
		return err
	}
	window, err := WindowParam(f, "window")
	if err != nil {
		return err
	}

	out := make([]float64, len(series))
	for i := range series {
		if i < window {
			continue
		}
		out[i] = series[i] - series[i-window]
	}
	return ds.SetColumn(f.Outputs[0], out)
}

func applyRSI(ds *dataset.Dataset, f model.Factor) error {
	series, err := inputColumn(ds, f, 0)
	if err != nil {
		return err
	}
	window, err := WindowParam(f, "window")
	if err != nil {
		return err
	}

	out := make([]float64, len(series))
	var avgGain, avgLoss float64
	for i := 1; i < len(series); i++ {
		change := series[i] - series[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		if i <= window {
			avgGain += gain / float64(window)
			avgLoss += loss / float64(window)
		} else {
			avgGain = (avgGain*float64(window-1) + gain) / float64(window)
			avgLoss = (avgLoss*float64(window-1) + loss) / float64(window)
		}
		if i < window {
			out[i] = 50
			continue
		}
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	if len(out) > 0 {
		out[0] = 50
	}
	return ds.SetColumn(f.Outputs[0], out)
}

func applyZScore(ds *dataset.Dataset, f model.Factor) error {
	series, err := inputColumn(ds, f, 0)
	if err != nil {
		return err
	}
	window, err := WindowParam(f, "window")
	if err != nil {
		return err
	}

	out := make([]float64, len(series))
	for i := range series {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		mean, std := meanStd(series[start : i+1])
		if std > 0 {
			out[i] = (series[i] - mean) / std
		}
	}
	return ds.SetColumn(f.Outputs[0], out)
}

func applyVolatility(ds *dataset.Dataset, f model.Factor) error {
	series, err := inputColumn(ds, f, 0)
	if err != nil {
		return err
	}
	window, err := WindowParam(f, "window")
	if err != nil {
		return err
	}

	returns := make([]float64, len(series))
	for i := 1; i < len(series); i++ {
		if series[i-1] != 0 {
			returns[i] = series[i]/series[i-1] - 1
		}
	}
	out := make([]float64, len(series))
	for i := range returns {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		_, std := meanStd(returns[start : i+1])
		out[i] = std
	}
	return ds.SetColumn(f.Outputs[0], out)
}

func applyBollinger(ds *dataset.Dataset, f model.Factor) error {
	series, err := inputColumn(ds, f, 0)
	if err != nil {
		return err
	}
	window, err := WindowParam(f, "window")
	if err != nil {
		return err
	}
	width := f.Parameters["width"]

	upper := make([]float64, len(series))
	lower := make([]float64, len(series))
	for i := range series {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		mean, std := meanStd(series[start : i+1])
		upper[i] = mean + width*std
		lower[i] = mean - width*std
	}
	if err := ds.SetColumn(f.Outputs[0], upper); err != nil {
		return err
	}
	return ds.SetColumn(f.Outputs[1], lower)
}

func applyThresholdAbove(ds *dataset.Dataset, f model.Factor) error {
	series, err := inputColumn(ds, f, 0)
	if err != nil {
		return err
	}
	threshold := f.Parameters["threshold"]
	out := make([]float64, len(series))
	for i, v := range series {
		if v > threshold {
			out[i] = 1
		}
	}
	return ds.SetColumn(f.Outputs[0], out)
}

func applyThresholdBelow(ds *dataset.Dataset, f model.Factor) error {
	series, err := inputColumn(ds, f, 0)
	if err != nil {
		return err
	}
	threshold := f.Parameters["threshold"]
	out := make([]float64, len(series))
	for i, v := range series {
		if v < threshold {
			out[i] = 1
		}
	}
	return ds.SetColumn(f.Outputs[0], out)
}

func applyVolScale(ds *dataset.Dataset, f model.Factor) error {
	vol, err := inputColumn(ds, f, 0)
	if err != nil {
		return err
	}
	target := f.Parameters["target"]
	out := make([]float64, len(vol))
	for i, v := range vol {
		if v <= 0 {
			out[i] = 1
			continue
		}
		out[i] = math.Min(1, target/v)
	}
	return ds.SetColumn(f.Outputs[0], out)
}

func applyCrossSignal(ds *dataset.Dataset, f model.Factor) error {
	fast, err := inputColumn(ds, f, 0)
	if err != nil {
		return err
	}
	slow, err := inputColumn(ds, f, 1)
	if err != nil {
		return err
	}
	out := make([]float64, len(fast))
	for i := range fast {
		switch {
		case fast[i] > slow[i]:
			out[i] = 1
		case fast[i] < slow[i]:
			out[i] = -1
		}
	}
	return ds.SetColumn(f.Outputs[0], out)
}

func applyBandSignal(ds *dataset.Dataset, f model.Factor) error {
	series, err := inputColumn(ds, f, 0)
	if err != nil {
		return err
	}
	upper, err := inputColumn(ds, f, 1)
	if err != nil {
		return err
	}
	lower, err := inputColumn(ds, f, 2)
	if err != nil {
		return err
	}
	out := make([]float64, len(series))
	for i := range series {
		switch {
		case series[i] > upper[i]:
			out[i] = -1
		case series[i] < lower[i]:
			out[i] = 1
		}
	}
	return ds.SetColumn(f.Outputs[0], out)
}

func meanStd(window []float64) (float64, float64) {
	if len(window) == 0 {
		return 0, 0
	}
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(len(window))
	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(window))
	return mean, math.Sqrt(variance)
}
