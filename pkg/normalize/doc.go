// Package normalize reduces sender names to stable correspondent
// keys. The same shop writes itself a dozen ways across a mail
// archive ("ALZA.CZ a.s.", "Alza.cz", "alza"); the key pipeline folds
// all of them onto one string so lookup, creation and merging agree on
// identity, and the display-name logic picks one presentable spelling.
package normalize
