package replacer

import (
	"errors"
	"fmt"

	"czcage/internal/dom"
)

// TargetCount is ceil(n*rate/100) with rate clamped to [0,100].
func TargetCount(n, rate int) int {
	if n <= 0 || rate <= 0 {
		return 0
	}
	if rate >= 100 {
		return n
	}
	return (n*rate + 99) / 100
}

// pass attempts the first TargetCount elements of a uniform shuffle of the
// unmarked images. A skipped attempt still uses up its slot.
func (e *Engine) pass(trigger string) Stats {
	st := Stats{Skipped: map[SkipReason]int{}}
	e.passes++
	if e.set.Len() == 0 {
		e.last = st
		return st
	}
	imgs, err := e.doc.UnmarkedImages()
	if err != nil {
		e.logger.Printf("PASS %s: query images: %v", trigger, err)
		e.last = st
		return st
	}
	st.Eligible = len(imgs)
	st.Target = TargetCount(len(imgs), e.settings.ReplacementRate)
	e.rng.Shuffle(len(imgs), func(i, j int) { imgs[i], imgs[j] = imgs[j], imgs[i] })

	for _, el := range imgs[:st.Target] {
		st.Attempted++
		reason, err := e.attempt(el)
		switch {
		case err != nil:
			st.Failed++
			e.logger.Printf("PASS %s: replace image: %v", trigger, err)
		case reason != SkipNone:
			st.Skipped[reason]++
		default:
			st.Replaced++
		}
	}
	e.last = st
	e.logger.Printf("PASS %s rate=%d eligible=%d target=%d replaced=%d failed=%d skipped=%v",
		trigger, e.settings.ReplacementRate, st.Eligible, st.Target, st.Replaced, st.Failed, st.Skipped)
	return st
}

func (e *Engine) attempt(el dom.Element) (SkipReason, error) {
	_, tracked := e.tracked[el.Key()]
	if reason := exclusion(el, tracked, e.resolver.Owns); reason != SkipNone {
		return reason, nil
	}
	src, hadSrc := el.Attr("src")
	srcset, hadSrcset := el.Attr("srcset")
	ref, _ := e.set.Pick(e.rng)
	next := e.resolver.Resolve(ref)

	if err := replace(el, src, hadSrc, srcset, hadSrcset, next); err != nil {
		if rerr := rollback(el, src, hadSrc, srcset, hadSrcset); rerr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
		return SkipNone, err
	}
	e.tracked[el.Key()] = struct{}{}
	if e.verbose {
		e.logger.Printf("REPLACE %s -> %s", src, next)
	}
	return SkipNone, nil
}

// replace records the original attributes only when they exist, so that an
// empty value and a missing attribute restore differently.
func replace(el dom.Element, src string, hadSrc bool, srcset string, hadSrcset bool, next string) error {
	if err := el.SetAttr(dom.AttrReplaced, "true"); err != nil {
		return fmt.Errorf("mark: %w", err)
	}
	if hadSrc {
		if err := el.SetAttr(dom.AttrOriginal, src); err != nil {
			return fmt.Errorf("record src: %w", err)
		}
	}
	if hadSrcset {
		if err := el.SetAttr(dom.AttrOriginalSrcset, srcset); err != nil {
			return fmt.Errorf("record srcset: %w", err)
		}
	}
	// a srcset would win over the plain src when rendering
	if err := el.RemoveAttr("srcset"); err != nil {
		return fmt.Errorf("drop srcset: %w", err)
	}
	if err := el.SetAttr("src", next); err != nil {
		return fmt.Errorf("set src: %w", err)
	}
	return nil
}

func rollback(el dom.Element, src string, hadSrc bool, srcset string, hadSrcset bool) error {
	var errs []error
	if hadSrc {
		errs = append(errs, el.SetAttr("src", src))
	} else {
		errs = append(errs, el.RemoveAttr("src"))
	}
	if hadSrcset {
		errs = append(errs, el.SetAttr("srcset", srcset))
	} else {
		errs = append(errs, el.RemoveAttr("srcset"))
	}
	errs = append(errs, unmark(el))
	return errors.Join(errs...)
}

// revert restores every marked image found in the document and forgets the
// tracked set.
func (e *Engine) revert() {
	marked, err := e.doc.MarkedImages()
	if err != nil {
		e.logger.Printf("REVERT query images: %v", err)
	}
	for _, el := range marked {
		if err := restore(el); err != nil {
			e.logger.Printf("REVERT image: %v", err)
		}
	}
	clear(e.tracked)
}

func restore(el dom.Element) error {
	var errs []error
	if orig, ok := el.Attr(dom.AttrOriginal); ok {
		errs = append(errs, el.SetAttr("src", orig))
	} else {
		// the image had no source before it was replaced
		errs = append(errs, el.RemoveAttr("src"))
	}
	if set, ok := el.Attr(dom.AttrOriginalSrcset); ok {
		errs = append(errs, el.SetAttr("srcset", set))
	} else {
		errs = append(errs, el.RemoveAttr("srcset"))
	}
	errs = append(errs, unmark(el))
	return errors.Join(errs...)
}

func unmark(el dom.Element) error {
	return errors.Join(
		el.RemoveAttr(dom.AttrReplaced),
		el.RemoveAttr(dom.AttrOriginal),
		el.RemoveAttr(dom.AttrOriginalSrcset),
	)
}
